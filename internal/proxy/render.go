package proxy

import (
	"fmt"
	"sort"
	"strings"
)

const preamble = `worker_processes auto;

events {
    worker_connections 1024;
}

http {
    log_format hub '$remote_addr - $remote_user [$time_local] "$request" '
                    '$status $body_bytes_sent "$http_referer"';
    access_log /var/log/nginx/access.log hub;

    server {
        listen 80;
`

const rootLocationTmpl = `
        location / {
            proxy_pass http://%s;
            proxy_set_header Host $host;
            proxy_set_header X-Real-IP $remote_addr;
        }
`

const sessionLocationTmpl = `
        location /%s/ {
            proxy_pass http://%s/;
            proxy_set_header Host $host;
            proxy_set_header X-Real-IP $remote_addr;
            proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
            proxy_set_header X-Forwarded-Proto $scheme;
        }
`

const sessionWebSocketLocationTmpl = `
        location /%s-ws {
            proxy_pass http://%s/;
            proxy_http_version 1.1;
            proxy_set_header Upgrade $http_upgrade;
            proxy_set_header Connection "upgrade";
            proxy_set_header Host $host;
            proxy_cache_bypass $http_upgrade;
            proxy_read_timeout 3600s;
        }
`

const postamble = `    }
}
`

// Render produces the full proxy configuration document for the given
// sessions: a fixed preamble, a root location forwarding to hubSelfAddr, and
// two location blocks per session with a non-empty ServiceAddress. Sessions
// are sorted by ID so that an unchanged session set renders byte-identical
// output across calls (§8 round-trip property).
func Render(sessions []SessionSnapshot, hubSelfAddr string) []byte {
	sorted := make([]SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		if s.ServiceAddress == "" {
			continue
		}
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	b.WriteString(preamble)
	fmt.Fprintf(&b, rootLocationTmpl, hubSelfAddr)
	for _, s := range sorted {
		fmt.Fprintf(&b, sessionLocationTmpl, s.ID, s.ServiceAddress)
		fmt.Fprintf(&b, sessionWebSocketLocationTmpl, s.ID, s.ServiceAddress)
	}
	b.WriteString(postamble)
	return []byte(b.String())
}
