// Package main generates a Certificate Authority (CA), a server certificate
// and host client certificates, writing them to files under a certs directory.
//
// Usage:
//
//	certgen [--dir certs] [--server localhost] [--host firefox] [--host thunderbird]
//
// An existing ca.crt/ca.key pair in dir is reused so that new hosts can be
// issued without invalidating old certificates.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/atinyakov/passkeeper/internal/certgen"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	dir := fs.String("dir", "certs", "output directory")
	server := fs.String("server", "localhost", "server certificate common name")
	hosts := fs.StringSlice("host", []string{"firefox"}, "host client certificate common names")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ca, err := loadOrCreateCA(*dir, out)
	if err != nil {
		return err
	}

	b, err := certgen.IssueCertificate(*server, ca, true)
	if err != nil {
		return fmt.Errorf("server certificate: %w", err)
	}
	if err := certgen.WritePEM(*dir, "server", b); err != nil {
		return err
	}

	for _, host := range *hosts {
		b, err := certgen.IssueCertificate(host, ca, false)
		if err != nil {
			return fmt.Errorf("host %q: %w", host, err)
		}
		if err := certgen.WritePEM(*dir, host, b); err != nil {
			return err
		}
		fmt.Fprintf(out, "issued %s/%s.crt\n", *dir, host)
	}

	fmt.Fprintf(out, "✅ Certificates generated into ./%s\n", *dir)
	return nil
}

func loadOrCreateCA(dir string, out io.Writer) (*certgen.CA, error) {
	certPath, keyPath := filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key")
	if _, err := os.Stat(certPath); err == nil {
		fmt.Fprintf(out, "reusing %s\n", certPath)
		return certgen.LoadCACredentials(certPath, keyPath)
	}
	ca, err := certgen.GenerateCA("passkeeper CA")
	if err != nil {
		return nil, err
	}
	if err := certgen.WritePEM(dir, "ca", ca.Bundle); err != nil {
		return nil, err
	}
	return ca, nil
}
