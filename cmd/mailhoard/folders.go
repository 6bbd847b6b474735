package main

import (
	"context"
	"flag"
	"fmt"
	"net"

	"github.com/google/subcommands"
	"github.com/mailhoard/mailhoard/pkg/account"
	"github.com/mailhoard/mailhoard/pkg/config"
	"github.com/mailhoard/mailhoard/pkg/message"
	"github.com/rs/zerolog/log"
)

type foldersCmd struct{}

func (*foldersCmd) Name() string {
	return "folders"
}

func (*foldersCmd) Synopsis() string {
	return "list an account's remote folders"
}

func (*foldersCmd) Usage() string {
	return `folders <account>:
	connect to the account's server and print its folder hierarchy
`
}

func (*foldersCmd) SetFlags(f *flag.FlagSet) {}

func (*foldersCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	name := f.Arg(0)
	if name == "" {
		return usage("account name required")
	}

	conf, closeLog, err := loadConfig()
	if err != nil {
		return fatal("Configuration error", err)
	}
	defer closeLog()

	roster, err := config.LoadAccounts(conf.Accounts)
	if err != nil {
		return fatal("Roster error", err)
	}
	var acc *account.Account
	for _, entry := range roster {
		if entry.Name == name {
			acc = account.New(entry)
			break
		}
	}
	if acc == nil {
		return usage(fmt.Sprintf("account %q not in roster", name))
	}

	host, _, err := net.SplitHostPort(acc.Config.IMAPAddr)
	if err != nil {
		host = acc.Config.IMAPAddr
	}
	sess := account.NewIMAPSession(acc, conf.IMAP, account.SystemVerifier(host), log.Logger)
	if err := sess.Dial(ctx); err != nil {
		return fatal("Connect failed", err)
	}
	defer sess.Close()
	if err := sess.Login(ctx); err != nil {
		return fatal("Login failed", err)
	}

	folders, err := sess.ListFolders(ctx)
	if err != nil {
		return fatal("Listing failed", err)
	}
	for _, folder := range folders {
		fmt.Printf("%s\t%d messages, %d unread\n",
			message.PathString(folder.Path), folder.Messages, folder.Unread)
	}
	return subcommands.ExitSuccess
}
