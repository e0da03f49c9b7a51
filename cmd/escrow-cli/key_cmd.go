package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"trustlance/cmd/internal/passphrase"
	"trustlance/crypto"
)

// newPassphrase is swapped out in tests.
var newPassphrase = func() interface{ Get() (string, error) } {
	return passphrase.NewSource(envKeystorePass)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "keystore.json", "path of the keystore file to write")
	light := fs.Bool("light", false, "use light scrypt parameters")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	pass, err := newPassphrase().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	params := crypto.StandardScrypt
	if *light {
		params = crypto.LightScrypt
	}
	if err := crypto.SaveToKeystoreWithParams(*out, key, pass, params); err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	fmt.Fprintf(stdout, "Address: %s\nKeystore: %s\n", key.PubKey().Address(), *out)
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keyPath := fs.String("key", "keystore.json", "keystore file")
	asHex := fs.Bool("hex", false, "print the 0x hex form instead of bech32")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr := key.PubKey().Address()
	if *asHex {
		fmt.Fprintln(stdout, addr.Hex())
		return 0
	}
	fmt.Fprintln(stdout, addr.String())
	return 0
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("--key is required")
	}
	pass, err := newPassphrase().Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore %s: %w", path, err)
	}
	return key, nil
}
