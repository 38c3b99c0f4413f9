package ready

import (
	"context"
	"net"
	"time"
)

// TCP checks readiness by dialing a TCP connection to Addr.
type TCP struct {
	Addr string
}

func (c *TCP) Check(ctx context.Context) error {
	d := net.Dialer{Timeout: 200 * time.Millisecond}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
