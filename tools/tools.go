package tools

import (
	"net"
	"net/http"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

func PrintVersion() {

	f, err := os.OpenFile("version", os.O_RDONLY, 0666)
	if err != nil {
		log.Println("Error opening version file")
		return
	}
	defer f.Close()
	b := make([]byte, 100)
	_, err = f.Read(b)
	if err != nil {
		log.Println("Error reading version file")
		return
	}
	log.Println(string(b))
}

func Contains(slice []string, element string) bool {
	for _, item := range slice {
		if item == element {
			return true
		}
	}
	return false
}

// ContainsAny reports whether any of the listed fragments occurs in s.
// The match is case-insensitive.
func ContainsAny(s string, fragments []string) bool {
	ls := strings.ToLower(s)
	for _, f := range fragments {
		if f == "" {
			continue
		}
		if strings.Contains(ls, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// GetIP identifies the real IP address of the request
func GetIP(r *http.Request) string {
	var ip string

	ip = r.Header.Get("X-Real-IP")
	if ip == "" {
		xff := r.Header.Get("X-Forwarded-For")
		if len(xff) > 15 {
			xffs := strings.Split(xff, ",")
			if len(xffs) > 2 {
				ip = xffs[1]
			} else {
				ip = xffs[0]
			}
		}
	}

	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}
	if ip == "127.0.0.1" {
		ip = r.RemoteAddr
	}
	return ip
}

// DiscoverHost finds the host name the request was addressed to,
// looking behind the usual proxy headers.
func DiscoverHost(r *http.Request) string {
	var host string
	_host := r.Host
	h_host := r.Header.Get("Host")
	fh_host := r.Header.Get("X-Forwarded-Host")
	url_host := r.URL.Host

	// find NOT empty host
	if _host == "" {
		if h_host == "" {
			if fh_host == "" {
				if url_host == "" {
					log.Printf("HOST value not find in the request")
				}
			} else {
				host = fh_host
			}
		} else {
			host = h_host
		}
	} else {
		host = _host
	}

	return host
}

func GetIPCount() int {
	return IPCount.Len()
}
