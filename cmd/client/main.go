// Package main is an interactive shell for a passkeeper server. It talks
// to the login storage API with a host client certificate.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/atinyakov/passkeeper/internal/client"
	"github.com/atinyakov/passkeeper/internal/models"
)

var (
	version   string
	buildDate string
)

const help = "Available commands: help, add, all, find <host>, count <host>, remove <host>, edit <host>, clear, status, exit"

// API is the part of the client the shell uses.
type API interface {
	AddLogin(ctx context.Context, login models.Login) error
	GetAllLogins(ctx context.Context) ([]models.Login, error)
	SearchLogins(ctx context.Context, md models.MatchData) ([]models.Login, error)
	CountLogins(ctx context.Context, hostname string, formSubmitURL, httpRealm *string) (int, error)
	RemoveLogin(ctx context.Context, login models.Login) error
	ModifyLogin(ctx context.Context, old models.Login, change models.Change) error
	RemoveAllLogins(ctx context.Context) error
	Status(ctx context.Context) (client.Status, error)
}

// repl runs the interactive shell loop, accepting commands to manage logins.
// Answers to prompts are read from the same stream as commands.
func repl(ctx context.Context, api API, in io.Reader, out io.Writer) {
	prompt := client.NewPrompter(in, out)

	for {
		line, err := prompt.Ask("passkeeper> ")
		if err != nil {
			return
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			fmt.Fprintln(out, "Bye")
			return
		}
		if err := dispatch(ctx, api, prompt, out, args); err != nil {
			fmt.Fprintln(out, "Error:", err)
		}
	}
}

func dispatch(ctx context.Context, api API, prompt *client.Prompter, out io.Writer, args []string) error {
	needHost := func() (string, error) {
		if len(args) < 2 {
			return "", fmt.Errorf("usage: %s <host>", args[0])
		}
		return args[1], nil
	}

	switch args[0] {
	case "help":
		fmt.Fprintln(out, help)
	case "add":
		l, err := prompt.PromptForLogin()
		if err != nil {
			return err
		}
		if err := api.AddLogin(ctx, l); err != nil {
			return err
		}
		fmt.Fprintln(out, "Login saved")
	case "all":
		logins, err := api.GetAllLogins(ctx)
		if err != nil {
			return err
		}
		printLogins(out, logins)
	case "find":
		host, err := needHost()
		if err != nil {
			return err
		}
		logins, err := api.SearchLogins(ctx, models.MatchData{models.Hostname: models.String(host)})
		if err != nil {
			return err
		}
		printLogins(out, logins)
	case "count":
		host, err := needHost()
		if err != nil {
			return err
		}
		n, err := api.CountLogins(ctx, host, models.String(""), models.String(""))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d login(s) for %s\n", n, host)
	case "remove", "edit":
		host, err := needHost()
		if err != nil {
			return err
		}
		logins, err := api.SearchLogins(ctx, models.MatchData{models.Hostname: models.String(host)})
		if err != nil {
			return err
		}
		if len(logins) == 0 {
			fmt.Fprintln(out, "Login not found")
			return nil
		}
		target, err := prompt.Choose(logins)
		if err != nil {
			return err
		}
		if args[0] == "remove" {
			if err := api.RemoveLogin(ctx, target); err != nil {
				return err
			}
			fmt.Fprintln(out, "Login removed")
			return nil
		}
		changes, err := prompt.PromptForChanges()
		if err != nil {
			return err
		}
		if err := api.ModifyLogin(ctx, target, models.Changes(changes)); err != nil {
			return err
		}
		fmt.Fprintln(out, "Login updated")
	case "clear":
		answer, err := prompt.Ask("Remove every login? [y/N] ")
		if err != nil {
			return err
		}
		if !strings.EqualFold(answer, "y") {
			return nil
		}
		if err := api.RemoveAllLogins(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "All logins removed")
	case "status":
		s, err := api.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "busy: %t, logged in: %t\n", s.Busy, s.LoggedIn)
	default:
		fmt.Fprintln(out, "Unknown command. Type 'help' for a list of commands.")
	}
	return nil
}

func printLogins(out io.Writer, logins []models.Login) {
	if len(logins) == 0 {
		fmt.Fprintln(out, "No logins")
		return
	}
	for _, l := range logins {
		fmt.Fprintln(out, client.Describe(l))
	}
}

// main parses command-line flags and starts the shell.
func main() {
	var (
		baseURL  string
		certFile string
		keyFile  string
		caFile   string
		showVer  bool
		dump     bool
	)

	flag.StringVar(&baseURL, "url", "https://localhost:8443", "server base URL")
	flag.StringVar(&certFile, "cert", "certs/firefox.crt", "path to host client cert")
	flag.StringVar(&keyFile, "key", "certs/firefox.key", "path to host client key")
	flag.StringVar(&caFile, "ca", "certs/ca.crt", "path to CA cert")
	flag.BoolVar(&dump, "dump", false, "print every login as JSON and exit")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("passkeeper client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	httpClient, err := client.LoadClientCertificate(certFile, keyFile, caFile)
	if err != nil {
		log.Fatal(err)
	}
	c := client.New(httpClient, baseURL)

	if dump {
		logins, err := c.GetAllLogins(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		b, _ := json.MarshalIndent(logins, "", "  ")
		fmt.Println(string(b))
		return
	}

	repl(context.Background(), c, os.Stdin, os.Stdout)
}
