package utils

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const (
	timeFormat = "2006/01/02 15:04:05"
)

// AccessCheck checks whether the file or directory exists
func AccessCheck(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("Not found %s or permision denied", err)
	}
	return nil
}

// ParseIPPort parses "IP:Port" and "[IPv6]:Port" strings; returns nil IP on failure
func ParseIPPort(ipPort string) (net.IP, int) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(ipPort))
	if err != nil {
		return nil, 0
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, 0
	}

	return ip, port
}

// ResolveUDPAddr is ParseIPPort for callers that need a *net.UDPAddr
func ResolveUDPAddr(ipPort string) (*net.UDPAddr, error) {
	ip, port := ParseIPPort(ipPort)
	if ip == nil {
		return nil, fmt.Errorf("invalid address:%s", ipPort)
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

// ToHex returns the upper case hexadecimal encoding string
func ToHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// FromHex returns the bytes represented by the hexadecimal string s
func FromHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
