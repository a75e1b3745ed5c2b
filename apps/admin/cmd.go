package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/auth"
	"github.com/trezcool/ratiba/core/schedule"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db   *sql.DB
	svc  schedule.ServiceInterface
	conf *core.Config
	out  io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  token -user USER_ID -role ROLE [-ttl DURATION] - issue a bearer token")
	fmt.Fprintln(cli.out, "  orphans - list recurrence chains without an open class")
	fmt.Fprintln(cli.out, "  regenerate -chain CHAIN_ID - create the next class of an orphaned recurrence chain")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenUser := tokenCmd.String("user", "", "The user ID (token subject).")
	tokenRole := tokenCmd.String("role", "", "The user role: admin, teacher or student.")
	tokenTTL := tokenCmd.Duration("ttl", cli.conf.Server.JWTExpirationDelta, "How long the token is valid.")

	regenerateCmd := flag.NewFlagSet("regenerate", flag.ContinueOnError)
	regenerateChain := regenerateCmd.String("chain", "", "The recurrence chain ID.")

	for _, fs := range []*flag.FlagSet{tokenCmd, regenerateCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenUser == "" || !auth.IsValidRole(*tokenRole) || *tokenTTL <= 0 {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenUser, *tokenRole, *tokenTTL)
	case "orphans":
		return cli.orphans()
	case "regenerate":
		if err := regenerateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *regenerateChain == "" {
			regenerateCmd.Usage()
			return errHelp
		}
		return cli.regenerate(*regenerateChain)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) token(userID, role string, ttl time.Duration) error {
	id := auth.Identity{UserID: core.CleanString(userID), Role: role}
	token, err := auth.GenerateToken([]byte(cli.conf.SecretKey), auth.NewClaims(cli.conf.AppName, id, ttl))
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}

func (cli *commandLine) orphans() error {
	orphans, err := cli.svc.OrphanedChains(context.Background())
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		fmt.Fprintln(cli.out, "no orphaned chain")
		return nil
	}
	for _, s := range orphans {
		fmt.Fprintf(cli.out, "%s\t%s\n", s.RecurrenceChainID, s)
	}
	return nil
}

func (cli *commandLine) regenerate(chainID string) error {
	s, err := cli.svc.RegenerateChain(context.Background(), core.CleanString(chainID))
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created %s\n", s)
	return nil
}
