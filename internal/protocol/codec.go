package protocol

// Codec turns commands into frames and back for one wire format.
//
// Decode looks for one frame at the start of buf. It returns the command
// and the number of bytes the frame used. When buf holds no whole frame it
// returns ErrIncomplete together with the number of leading bytes that can
// never start a frame and may be dropped. For a bad frame it returns the
// error and the number of bytes to skip before trying again.
type Codec interface {
	Encode(cmd Command) ([]byte, error)
	Decode(buf []byte) (Command, int, error)
}
