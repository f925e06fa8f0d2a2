// Package rtpreceive implements the RTP receiver (C8): socket binding
// (including multicast join), packet validation, and handoff of validated
// packets to the jitter-buffer queue owned by internal/rtpplay.
package rtpreceive

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// recvBufferBytes is the minimum SO_RCVBUF raised on the receive socket.
const recvBufferBytes = 128 * 1024

// bindSocket resolves listenAddr and returns a UDP socket: multicast
// addresses bind the group address and join membership
// (net.ListenMulticastUDP handles both the bind and IP_ADD_MEMBERSHIP/
// IPV6_JOIN_GROUP join on the primary interface); unicast addresses bind
// the wildcard address of the same family on the chosen port with
// SO_REUSEADDR set pre-bind.
func bindSocket(listenAddr string) (*net.UDPConn, error) {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("rtpreceive: invalid listen address %q: %w", listenAddr, err)
	}

	ip := net.ParseIP(host)
	if ip != nil && ip.IsMulticast() {
		network := "udp4"
		if ip.To4() == nil {
			network = "udp6"
		}
		portNum, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("rtpreceive: invalid port in %q: %w", listenAddr, err)
		}
		conn, err := net.ListenMulticastUDP(network, nil, &net.UDPAddr{IP: ip, Port: portNum})
		if err != nil {
			return nil, fmt.Errorf("rtpreceive: joining multicast group %s: %w", listenAddr, err)
		}
		raiseRecvBuffer(conn)
		return conn, nil
	}

	network := "udp4"
	wildcard := "0.0.0.0"
	if ip != nil && ip.To4() == nil {
		network = "udp6"
		wildcard = "::"
	}
	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(context.Background(), network, net.JoinHostPort(wildcard, port))
	if err != nil {
		return nil, fmt.Errorf("rtpreceive: binding %s: %w", listenAddr, err)
	}
	conn := pc.(*net.UDPConn)
	raiseRecvBuffer(conn)
	return conn, nil
}

func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

func raiseRecvBuffer(conn *net.UDPConn) {
	// SetReadBuffer only raises the kernel's advertised buffer on a
	// best-effort basis; an error here isn't fatal and is discarded.
	_ = conn.SetReadBuffer(recvBufferBytes)
}
