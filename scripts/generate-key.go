// Package main is a development utility for generating a master encryption
// secret suitable for the envelope cipher keystore. It prints the raw secret
// alongside ready-to-paste snippets for both the inline environment variable
// and the file-based keystore, so developers can bootstrap a local instance
// without inventing weak secrets by hand. Do not reuse generated secrets
// across environments — rotate through the file keystore in production.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	// Generate random bytes
	randomBytes := make([]byte, 32)
	_, err := rand.Read(randomBytes)
	if err != nil {
		log.Fatal(err)
	}

	// Encode to base64
	secret := base64.RawURLEncoding.EncodeToString(randomBytes)

	fmt.Println("==========================================================")
	fmt.Println("Master Secret Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nSecret: %s\n", secret)
	fmt.Println("\n==========================================================")
	fmt.Println("Inline keystore (environment variable):")
	fmt.Println("==========================================================")
	fmt.Printf("\nexport ENCRYPTION_KEY=%s\n", secret)
	fmt.Println("\n==========================================================")
	fmt.Println("File keystore (first line is the current secret):")
	fmt.Println("==========================================================")
	fmt.Printf("\necho '%s' >> /etc/keyprotect/master.keys\n", secret)
	fmt.Println("\n==========================================================")
}
