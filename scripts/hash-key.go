package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/pearconnect/connect-server/internal/util"
)

// Prints a bcrypt hash for CONTROL_KEY_HASH. Without an argument a random key
// is generated and printed first.
func main() {
	if len(os.Args) > 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-key.go [key]\n")
		os.Exit(1)
	}

	var key string
	if len(os.Args) == 2 {
		key = os.Args[1]
	} else {
		generated, err := util.GenerateSecret()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		key = generated
		fmt.Printf("key:  %s\n", key)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), 12)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) == 2 {
		fmt.Println(string(hash))
		return
	}
	fmt.Printf("hash: %s\n", hash)
}
