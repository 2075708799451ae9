// Package main is a diagnostic tool for testing database connectivity and
// inspecting live key-protection data. It connects to the database, queries
// the digital_keys and download_tokens tables, and prints a summary to stdout.
// The binary exits with a non-zero code on any failure so it can be embedded
// in health checks or CI/CD pipeline steps to gate deployments on a reachable,
// populated database. Only non-sensitive columns are selected; ciphertext and
// token hashes never reach stdout.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "keyprotect"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=keyprotect password=%s dbname=key_protection sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	// Check digital keys
	fmt.Println("=== DIGITAL KEYS ===")
	rows, err := db.Query("SELECT id, product_id, key_type, fingerprint, current_uses, max_uses, is_active FROM digital_keys")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, productID, keyType, fingerprint string
		var currentUses, maxUses int
		var isActive bool
		if err := rows.Scan(&id, &productID, &keyType, &fingerprint, &currentUses, &maxUses, &isActive); err != nil {
			log.Printf("Warning: failed to scan key row: %v", err)
			continue
		}
		fmt.Printf("Key: %s type=%s product=%s uses=%d/%d active=%v fingerprint=%s\n",
			id, keyType, productID, currentUses, maxUses, isActive, fingerprint)
	}

	// Check download tokens
	fmt.Println("\n=== DOWNLOAD TOKENS ===")
	rows2, err := db.Query("SELECT id, resource_type, resource_id, current_downloads, max_downloads, is_consumed, expires_at FROM download_tokens")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	count := 0
	for rows2.Next() {
		var id, resourceType, resourceID, expiresAt string
		var currentDownloads, maxDownloads int
		var consumed bool
		if err := rows2.Scan(&id, &resourceType, &resourceID, &currentDownloads, &maxDownloads, &consumed, &expiresAt); err != nil {
			log.Printf("Warning: failed to scan token row: %v", err)
			continue
		}
		fmt.Printf("Token: %s %s/%s downloads=%d/%d consumed=%v expires=%s\n",
			id, resourceType, resourceID, currentDownloads, maxDownloads, consumed, expiresAt)
		count++
	}

	if count == 0 {
		fmt.Println("No tokens found!")
	}
}
