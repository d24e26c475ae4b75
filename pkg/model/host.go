package model

import (
	"net"
	"strconv"
)

// HostStatus tracks where a host is in the patch lifecycle. Transitions are
// strictly forward; a host never moves back to an earlier status.
type HostStatus string

const (
	StatusPending   HostStatus = "pending"
	StatusChecking  HostStatus = "checking"
	StatusPatching  HostStatus = "patching"
	StatusRebooting HostStatus = "rebooting"
	StatusVerifying HostStatus = "verifying"
	StatusDone      HostStatus = "done"
	StatusFailed    HostStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s HostStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Host is one managed server in the fleet. Connection parameters are carried
// alongside the identity so inventory sources can be swapped freely.
type Host struct {
	Name     string            `json:"name" yaml:"name"`
	Addr     string            `json:"addr" yaml:"addr"`
	Port     int               `json:"port,omitempty" yaml:"port"`
	User     string            `json:"user,omitempty" yaml:"user"`
	KeyFile  string            `json:"keyFile,omitempty" yaml:"key_file"`
	Password string            `json:"-" yaml:"password"`
	Labels   map[string]string `json:"labels,omitempty" yaml:"labels"`
}

// Address returns the dialable host:port, defaulting the port to 22.
func (h Host) Address() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Addr, strconv.Itoa(port))
}
