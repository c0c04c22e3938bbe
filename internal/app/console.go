package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ggonzalez94/stakechat/internal/bot"
	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/spf13/cobra"
)

const janitorInterval = time.Minute

func (s *runtimeState) newConsoleCommand() *cobra.Command {
	var user, platform, name string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with the bot on stdin; confirmations persist for the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := s.botService(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go svc.Machine().Store().Janitor(ctx, janitorInterval)

			s.logger().Info("console session started", "platform", platform, "user", user, "mode", s.settings.Mode)
			return runConsole(ctx, svc, cmd.InOrStdin(), cmd.OutOrStdout(), bot.Message{Platform: platform, UserID: user, UserName: name})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Platform user id")
	cmd.Flags().StringVar(&platform, "platform", "console", "Messaging platform of the user")
	cmd.Flags().StringVar(&name, "name", "", "Display name of the user")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// runConsole feeds each input line to svc as a message from base and writes
// the replies until EOF or quit.
func runConsole(ctx context.Context, svc *bot.Service, in io.Reader, w io.Writer, base bot.Message) error {
	scanner := bufio.NewScanner(in)
	_, _ = fmt.Fprint(w, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			_, _ = fmt.Fprint(w, "> ")
			continue
		case "quit", "exit":
			return nil
		}
		msg := base
		msg.Text = line
		reply := svc.Handle(ctx, msg)
		if _, err := fmt.Fprintln(w, reply.Text); err != nil {
			return err
		}
		if hint := buttonHint(reply.Buttons); hint != "" {
			_, _ = fmt.Fprintln(w, hint)
		}
		_, _ = fmt.Fprint(w, "\n> ")
	}
	if err := scanner.Err(); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "read console input", err)
	}
	return nil
}

func buttonHint(rows [][]bot.Button) string {
	var parts []string
	for _, row := range rows {
		for _, b := range row {
			parts = append(parts, fmt.Sprintf("[%s: type %s]", b.Text, b.Action))
		}
	}
	return strings.Join(parts, " ")
}
