// Package main is a utility for generating bcrypt hashes of admin credentials.
// The server stores only the bcrypt hash of the admin credential — never the
// raw value — so this tool is used when provisioning
// DKP_SECURITY_ADMIN_CREDENTIAL_HASH without running the full server. Running
// it locally produces a hash that can be pasted directly into the config file
// or environment.
package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <credential>\n", os.Args[0])
		os.Exit(1)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(os.Args[1]), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	fmt.Println(string(hash))
}
