package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/chunkferry/chunkferry/client"
	"github.com/chunkferry/chunkferry/internal/auth"
	"github.com/chunkferry/chunkferry/internal/crypto"
	"github.com/chunkferry/chunkferry/internal/observability"
	"github.com/chunkferry/chunkferry/internal/validation"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "upload":
		uploadCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("ferry - chunkferry upload client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ferry upload --file <path> [flags]  - Upload a file")
	fmt.Println()
	fmt.Println("Run 'ferry upload -h' for flags")
}

func uploadCmd(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	filePath := fs.String("file", "", "File to upload (required)")
	host := fs.String("host", "127.0.0.1", "Server host")
	port := fs.Int("port", 7878, "Server port")
	threads := fs.Int("threads", 4, "Parallel worker connections")
	secret := fs.String("secret", "secret123", "Login secret")
	clientID := fs.String("client-id", "admin", "Login client id")
	keyFile := fs.String("key-file", "", "Chunk encryption key file (64 hex chars); built-in key when empty")
	ioTimeout := fs.Duration("io-timeout", 0, "Per-operation socket read timeout (0 disables)")
	quiet := fs.Bool("quiet", false, "Suppress the progress bar")
	fs.Parse(args)

	logger := observability.NewLogger("ferry", version, os.Stderr)

	if err := validation.ValidateFilePath(*filePath, true); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --file: %v\n", err)
		os.Exit(1)
	}
	if err := validation.ValidateRangeInt(*threads, 1, 256); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --threads: %v\n", err)
		os.Exit(1)
	}

	key := crypto.DefaultKey()
	if *keyFile != "" {
		loaded, err := crypto.LoadKeyFile(*keyFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --key-file: %v\n", err)
			os.Exit(1)
		}
		key = loaded
	}

	err := client.Upload(client.Options{
		FilePath:  *filePath,
		Host:      *host,
		Port:      *port,
		Workers:   *threads,
		ClientID:  *clientID,
		Secret:    *secret,
		Key:       key,
		IOTimeout: *ioTimeout,
		Quiet:     *quiet,
		Logger:    logger,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccessDenied):
			fmt.Fprintf(os.Stderr, "Authentication failed: %v\n", err)
		case errors.Is(err, client.ErrRejected):
			fmt.Fprintf(os.Stderr, "Upload rejected: %v\n", err)
		default:
			fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		}
		os.Exit(1)
	}
}
