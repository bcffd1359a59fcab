//go:build ignore

// One-off operator tool: generates the two vault master keys.
//
//	go run tools/gen_keys.go
//
// Put the output in config.yaml under vault.credential_key and
// vault.general_key (or the VAULT_* environment variables).
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	for _, name := range []string{"vault.credential_key", "vault.general_key"} {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			log.Fatalf("failed to generate key: %v", err)
		}
		fmt.Printf("%s: %s\n", name, base64.StdEncoding.EncodeToString(key))
	}
}
