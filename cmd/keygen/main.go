package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/chunkferry/chunkferry/internal/crypto"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "generate":
		generateCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("keygen - chunkferry key management tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  keygen generate [flags]  - Generate a chunk encryption key file")
	fmt.Println()
	fmt.Println("Run 'keygen generate -h' for flags")
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	outPath := fs.String("out", "ferry.key", "Output key file path")
	fromPassphrase := fs.Bool("from-passphrase", false, "Derive the key from a prompted passphrase instead of random bytes")
	force := fs.Bool("force", false, "Overwrite an existing key file")
	fs.Parse(args)

	if !*force {
		if _, err := os.Stat(*outPath); err == nil {
			fmt.Fprintf(os.Stderr, "%s already exists; use --force to overwrite\n", *outPath)
			os.Exit(1)
		}
	}

	var key []byte
	if *fromPassphrase {
		passphrase, err := readPassphrase()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read passphrase: %v\n", err)
			os.Exit(1)
		}
		key, err = crypto.DeriveKeyFromPassphrase(passphrase)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to derive key: %v\n", err)
			os.Exit(1)
		}
	} else {
		key = make([]byte, crypto.KeySize)
		if _, err := rand.Read(key); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
			os.Exit(1)
		}
	}

	if err := os.WriteFile(*outPath, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write key file: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Key file written:")
	fmt.Printf("  %s\n", *outPath)
	fmt.Println()
	fmt.Println("Pass it to both sides with --key-file. Keep it out of version control.")
}

func readPassphrase() (string, error) {
	fmt.Print("Enter passphrase: ")
	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}

	fmt.Print("Confirm passphrase: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}

	if string(passphrase) != string(confirm) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(passphrase), nil
}
