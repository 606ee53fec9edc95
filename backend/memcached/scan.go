package memcached

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const scanTimeout = 2 * time.Second

// Keys enumerates keys with a "stats items" + "stats cachedump" session per
// server. The scan is eventually consistent and server-version-dependent: a
// freshly written key may not be visible yet, cachedump caps how much of a
// slab it returns, and some deployments disable it outright. Callers must not
// depend on immediacy or completeness.
//
// No client library exposes this privileged scan, so the adapter speaks the
// stats text protocol over its own connections.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if len(s.addrs) == 0 {
		return nil, ErrNoAddrs
	}

	seen := make(map[string]struct{})
	var out []string
	for _, addr := range s.addrs {
		ks, err := dumpServer(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("memcached key scan %s: %w", addr, err)
		}
		for _, k := range ks {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out, nil
}

func dumpServer(ctx context.Context, addr string) ([]string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(scanTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	slabs, err := listSlabs(rw)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, slab := range slabs {
		ks, err := dumpSlab(rw, slab)
		if err != nil {
			return nil, err
		}
		keys = append(keys, ks...)
	}
	return keys, nil
}

// listSlabs issues "stats items" and collects slab class ids from
// "STAT items:<slab>:number <count>" lines.
func listSlabs(rw *bufio.ReadWriter) ([]int, error) {
	if _, err := rw.WriteString("stats items\r\n"); err != nil {
		return nil, err
	}
	if err := rw.Flush(); err != nil {
		return nil, err
	}

	seen := make(map[int]struct{})
	var slabs []int
	for {
		line, err := readLine(rw)
		if err != nil {
			return nil, err
		}
		if line == "END" {
			return slabs, nil
		}
		// STAT items:<slab>:number <count>
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[0] != "STAT" {
			continue
		}
		parts := strings.Split(fields[1], ":")
		if len(parts) != 3 || parts[0] != "items" || parts[2] != "number" {
			continue
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		slabs = append(slabs, id)
	}
}

// dumpSlab issues "stats cachedump <slab> 0" (0 = no item limit) and collects
// key names from "ITEM <key> [<size> b; <expiry> s]" lines. Memcached keys
// cannot contain whitespace, so field splitting is safe.
func dumpSlab(rw *bufio.ReadWriter, slab int) ([]string, error) {
	if _, err := fmt.Fprintf(rw, "stats cachedump %d 0\r\n", slab); err != nil {
		return nil, err
	}
	if err := rw.Flush(); err != nil {
		return nil, err
	}

	var keys []string
	for {
		line, err := readLine(rw)
		if err != nil {
			return nil, err
		}
		if line == "END" {
			return keys, nil
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "ITEM" {
			continue
		}
		keys = append(keys, fields[1])
	}
}

func readLine(rw *bufio.ReadWriter) (string, error) {
	line, err := rw.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, "ERROR") ||
		strings.HasPrefix(line, "CLIENT_ERROR") ||
		strings.HasPrefix(line, "SERVER_ERROR") {
		return "", fmt.Errorf("server refused scan: %s", line)
	}
	return line, nil
}
