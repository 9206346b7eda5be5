package cli

import (
	"context"
	"fmt"

	urfave "github.com/urfave/cli/v3"
)

const (
	userFlagName = "user"
	ttlFlagName  = "ttl"
)

func newTokenCmd() *urfave.Command {
	return &urfave.Command{
		Name:   "token",
		Usage:  "Issue an API bearer token signed with the local secret",
		Action: cmdIssueToken,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:     userFlagName,
				Aliases:  []string{"u"},
				Usage:    "User id the token is issued to",
				Required: true,
			},
			&urfave.DurationFlag{
				Name:  ttlFlagName,
				Usage: "Token lifetime (default: from config)",
			},
		},
	}
}

func cmdIssueToken(ctx context.Context, cmd *urfave.Command) error {
	st, err := getState(ctx)
	if err != nil {
		return err
	}

	tm, err := newTokenManager(st)
	if err != nil {
		return err
	}

	ttl := st.cfg.Auth.TokenTTL
	if cmd.IsSet(ttlFlagName) {
		ttl = cmd.Duration(ttlFlagName)
	}

	tok, err := tm.Issue(cmd.String(userFlagName), ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	_, err = fmt.Fprintln(output(cmd), tok)
	return err
}
