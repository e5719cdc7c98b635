// Command client polls the Modbus view a remote exposes for its menus.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"menu-remote/internal/modbus"
)

func main() {
	var (
		address string
		unit    int
		items   string
		set     string
		poll    time.Duration
		once    bool
	)
	flag.StringVar(&address, "addr", "127.0.0.1:5020", "Modbus TCP address of the remote")
	flag.IntVar(&unit, "unit", 1, "unit id of the connection (1 for the first enabled connection)")
	flag.StringVar(&items, "items", "1,2,3", "comma separated item ids to read")
	flag.StringVar(&set, "set", "", "write id=value to the item's holding register before polling")
	flag.DurationVar(&poll, "interval", 2*time.Second, "poll interval")
	flag.BoolVar(&once, "once", false, "read once and exit")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ids, err := parseIDs(items)
	if err != nil {
		log.Fatal().Err(err).Msg("bad -items")
	}

	th := mb.NewTCPClientHandler(normalizeAddress(address))
	th.Timeout = 5 * time.Second
	th.SlaveId = byte(unit)
	if err := th.Connect(); err != nil {
		log.Fatal().Err(err).Msg("connect (tcp)")
	}
	defer th.Close()
	client := mb.NewClient(th)

	if set != "" {
		id, value, err := parseSet(set)
		if err != nil {
			log.Fatal().Err(err).Msg("bad -set")
		}
		if _, err := client.WriteSingleRegister(id, value); err != nil {
			log.Fatal().Err(err).Uint16("item", id).Msg("write")
		}
		log.Info().Uint16("item", id).Uint16("value", value).Msg("written and acknowledged")
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		for _, id := range ids {
			r, err := modbus.Probe(client, id)
			if err != nil {
				log.Warn().Err(err).Uint16("item", id).Msg("read")
				continue
			}
			fmt.Println(r)
		}
		if once {
			return
		}
		<-ticker.C
	}
}

func parseIDs(s string) ([]uint16, error) {
	var out []uint16
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			return nil, err
		}
		out = append(out, uint16(n))
	}
	return out, nil
}

func parseSet(s string) (uint16, uint16, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok {
		return 0, 0, fmt.Errorf("want id=value, got %q", s)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(k), 10, 16)
	if err != nil {
		return 0, 0, err
	}
	val, err := strconv.ParseUint(strings.TrimSpace(v), 10, 16)
	if err != nil {
		return 0, 0, err
	}
	return uint16(id), uint16(val), nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":5020"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil && !strings.Contains(addr, ":") {
		addr = "127.0.0.1:" + addr
	}
	return addr
}
