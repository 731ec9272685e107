package main

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenTCP opens a non-blocking, listening TCP socket bound to addr,
// returning its raw file descriptor. Kept at the syscall level (rather
// than net.Listen) because the DCB core operates on raw fds end to end.
func listenTCP(addr string) (int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return -1, fmt.Errorf("listenTCP: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return -1, fmt.Errorf("listenTCP: invalid port %q: %w", portStr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("listenTCP: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listenTCP: setsockopt: %w", err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ip = net.IPv4zero
	}
	var sa unix.SockaddrInet4
	copy(sa.Addr[:], ip.To4())
	sa.Port = port

	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listenTCP: bind: %w", err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listenTCP: listen: %w", err)
	}
	return fd, nil
}

// acceptTCP accepts one pending connection on listenerFD, returning the
// accepted connection's non-blocking fd.
func acceptTCP(listenerFD int) (int, error) {
	fd, _, err := unix.Accept4(listenerFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// resolveSockaddr parses a host:port string into the unix.Sockaddr the
// raw-syscall connect/bind calls need.
func resolveSockaddr(addr string) (unix.Sockaddr, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("resolveSockaddr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("resolveSockaddr: invalid port %q: %w", portStr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("resolveSockaddr: cannot resolve %q", host)
		}
		ip = ips[0]
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("resolveSockaddr: only IPv4 addresses are supported, got %q", host)
	}
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], v4)
	return sa, nil
}
