package server

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"net/url"
)

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSecret returns a random alphanumeric secret of length n.
func GenerateSecret(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		out[i] = secretAlphabet[idx.Int64()]
	}
	return string(out)
}

// BuildConnectURL derives the URL clients use to reach this server. An IP
// override yields http with the port, a domain yields https behind an
// assumed reverse proxy, and no override falls back to the detected LAN
// address.
func BuildConnectURL(hostOverride string, port int) string {
	if hostOverride != "" {
		if net.ParseIP(hostOverride) != nil {
			return fmt.Sprintf("http://%s:%d", hostOverride, port)
		}
		return "https://" + hostOverride
	}
	return fmt.Sprintf("http://%s:%d", localIP(), port)
}

// localIP returns the outbound interface address. The dial never sends a
// packet; it only selects a route.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// DeepLink builds the add-server link the mobile client opens from the QR
// code or the wizard.
func DeepLink(connectURL, secret string) string {
	link := "nomadflowcode://add-server?url=" + url.QueryEscape(connectURL)
	if secret != "" {
		link += "&secret=" + url.QueryEscape(secret)
	}
	return link
}
