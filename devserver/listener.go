package devserver

import (
	"fmt"
	"io"
	"net"
	"strconv"
)

// BoundListener is the Listener returned by Server.Listen.
type BoundListener struct {
	port    int
	host    bool
	network []string
	out     io.Writer
}

func newBoundListener(addr net.Addr, host bool, out io.Writer) *BoundListener {
	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	l := &BoundListener{port: port, host: host, out: out}
	if host {
		l.network = networkURLs(port)
	}
	return l
}

// Port returns the bound port.
func (l *BoundListener) Port() int {
	return l.port
}

// URL returns the local address.
func (l *BoundListener) URL() string {
	return "http://localhost:" + strconv.Itoa(l.port)
}

// NetworkURLs returns the LAN addresses when the server is exposed.
func (l *BoundListener) NetworkURLs() []string {
	return l.network
}

// ShowURL prints the local and network addresses.
func (l *BoundListener) ShowURL() {
	fmt.Fprintf(l.out, "  ➜ Local:   %s\n", l.URL())
	if !l.host {
		fmt.Fprintf(l.out, "  ➜ Network: use --host to expose\n")
		return
	}
	for _, u := range l.network {
		fmt.Fprintf(l.out, "  ➜ Network: %s\n", u)
	}
}

func networkURLs(port int) []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var urls []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		urls = append(urls, "http://"+net.JoinHostPort(ipNet.IP.String(), strconv.Itoa(port)))
	}
	return urls
}
