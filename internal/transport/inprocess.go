package transport

import (
	"context"
	"io"
	"net"

	"github.com/rs/zerolog"
)

// ServeFunc plays the device end of an in-process connection until conn
// closes.
type ServeFunc func(ctx context.Context, conn net.Conn)

// NewInProcess connects to a device served inside this process. Each
// Connect starts serve on the far end of a fresh pipe.
func NewInProcess(name string, serve ServeFunc, log zerolog.Logger) *Stream {
	return NewStream("local://"+name, func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		local, remote := net.Pipe()
		go func() {
			defer remote.Close()
			serve(ctx, remote)
		}()
		return local, nil
	}, log)
}
