package main

import (
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZentaChain/gerti-client/pkg/config"
	"github.com/ZentaChain/gerti-client/pkg/crypto"
	"github.com/ZentaChain/gerti-client/pkg/keystore"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

type options struct {
	address   string
	keyPath   string
	keyStore  string
	overwrite bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gerti-keygen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var opts options

	fs := flag.NewFlagSet("gerti-keygen", flag.ContinueOnError)
	fs.StringVar(&opts.address, "address", "", "Address to register the key under (required)")
	fs.StringVar(&opts.keyPath, "key", config.DefaultKeyPath, "Where to write the PKCS#8 PEM private key")
	fs.StringVar(&opts.keyStore, "keystore", config.DefaultKeyStorePath, "Key-store file to append the public key to (empty to skip)")
	fs.BoolVar(&opts.overwrite, "force", false, "Overwrite an existing private key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	addr, err := protocol.ParseAddress(opts.address)
	if err != nil {
		return fmt.Errorf("-address: %w", err)
	}

	key, err := generate(opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✓ Private key saved to %s\n", opts.keyPath)
	fmt.Fprintf(out, "✓ Public key saved to %s.pub\n", opts.keyPath)

	if opts.keyStore != "" {
		if err := os.MkdirAll(filepath.Dir(opts.keyStore), 0700); err != nil {
			return err
		}
		if err := keystore.AppendRecord(opts.keyStore, addr, &key.PublicKey); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Registered %s in %s\n", addr.Key(), opts.keyStore)
	}

	fmt.Fprintf(out, "  Fingerprint: %s\n", crypto.Fingerprint(&key.PublicKey))
	return nil
}

func generate(opts options) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(opts.keyPath); err == nil && !opts.overwrite {
		return nil, fmt.Errorf("%s already exists (use -force to replace it)", opts.keyPath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	pemData, err := crypto.ExportPrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(opts.keyPath), 0700); err != nil {
		return nil, err
	}
	if err := crypto.SaveKeyToFile(opts.keyPath, pemData); err != nil {
		return nil, err
	}

	pubPEM, err := crypto.ExportPublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveKeyToFile(opts.keyPath+".pub", pubPEM); err != nil {
		return nil, err
	}

	return key, nil
}
