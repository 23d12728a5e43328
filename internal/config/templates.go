package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "transfer":
		return transferTemplate, nil
	case "transfer-tls":
		return transferTLSTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const transferTemplate = `tag = 1234
sender_rank = 0
receiver_rank = 1
iterations = 1
dimension = 4
group_size = 2
listen_addr = "127.0.0.1:9300"
metrics_addr = ""

[session]
connect_timeout_ms = 5000
read_timeout_ms = 15000
write_timeout_ms = 15000
security_mode = "development"
`

const transferTLSTemplate = `tag = 1234
sender_rank = 0
receiver_rank = 1
iterations = 1
dimension = 4
group_size = 2
listen_addr = "127.0.0.1:9300"
metrics_addr = "127.0.0.1:9310"

[session]
connect_timeout_ms = 5000
read_timeout_ms = 15000
write_timeout_ms = 15000
security_mode = "production"

[session.tls]
enabled = true
mutual = true
server_name = "trictl.local"
ca_file = "certs/ca.pem"
cert_file = "certs/node.pem"
key_file = "certs/node-key.pem"
`
