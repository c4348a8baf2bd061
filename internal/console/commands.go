package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sozuri-connect/internal/export"
	"sozuri-connect/internal/models"
	"sozuri-connect/internal/session"
)

var timeNow = time.Now

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func newLoginCmd(app *App) *cobra.Command {
	var email string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if email == "" {
				if email, err = app.prompt("Email: "); err != nil {
					return err
				}
			}
			var password string
			if passwordStdin {
				password, err = app.prompt("")
			} else {
				password, err = app.promptSecret("Password: ")
			}
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if email == "" || password == "" {
				return errors.New("email and password are required")
			}

			c, err := app.newClient(nil, nil)
			if err != nil {
				return err
			}
			resp, err := c.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			tokens, err := app.openTokens()
			if err != nil {
				return err
			}
			defer tokens.Close()
			if err := tokens.SetToken(resp.Token); err != nil {
				return err
			}

			fmt.Fprintf(app.Out, "Logged in as %s (%s, %s)\n", resp.Agent.Name, resp.Agent.Email, resp.Agent.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "agent email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := app.openTokens()
			if err != nil {
				return err
			}
			defer tokens.Close()
			if err := tokens.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity in the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := app.storedToken()
			if err != nil {
				return err
			}
			claims, err := session.Inspect(token)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Email:    %s\n", claims.Subject)
			fmt.Fprintf(app.Out, "Agent ID: %s\n", claims.AgentID)
			fmt.Fprintf(app.Out, "Role:     %s\n", claims.Role)
			if claims.Expired(timeNow()) {
				fmt.Fprintf(app.Out, "Expired:  %s\n", humanize.Time(claims.ExpiresAt))
			} else if !claims.ExpiresAt.IsZero() {
				fmt.Fprintf(app.Out, "Expires:  %s\n", humanize.Time(claims.ExpiresAt))
			}
			return nil
		},
	}
}

func newConversationsCmd(app *App) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convs"},
		Short:   "List conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := models.ConversationStatus(status)
			if st != "" && !st.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			c, _, err := app.client()
			if err != nil {
				return err
			}
			convs, err := c.ListConversations(cmd.Context(), st)
			if err != nil {
				return err
			}
			printConversations(app.Out, convs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (active, waiting, resolved, transferred)")
	return cmd
}

func printConversations(w io.Writer, convs []models.Conversation) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tCUSTOMER\tSTATUS\tAGENT\tUPDATED\tLAST MESSAGE")
	for _, c := range convs {
		agent := "-"
		if c.Agent != nil {
			agent = c.Agent.Name
		}
		last := ""
		if c.LastMessage != nil {
			last = truncate(c.LastMessage.Content, 40)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Customer.Name, c.Status, agent, humanize.Time(c.UpdatedAt), last)
	}
	tw.Flush()
	fmt.Fprintf(w, "%s conversation(s)\n", humanize.Comma(int64(len(convs))))
}

func newMessagesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := app.client()
			if err != nil {
				return err
			}
			msgs, err := c.ListMessages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printMessage(app.Out, m)
			}
			return nil
		},
	}
}

func printMessage(w io.Writer, m models.ChatMessage) {
	fmt.Fprintf(w, "[%s] %s: %s (%s)\n", m.Timestamp.Local().Format("15:04:05"), m.SenderType, m.Content, m.Status)
	for _, a := range m.Attachments {
		fmt.Fprintf(w, "    attachment: %s %s\n", a.Filename, a.URL)
	}
}

func newSendCmd(app *App) *cobra.Command {
	var attachments []string

	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text...>",
		Short: "Send a message as the logged in agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := app.client()
			if err != nil {
				return err
			}
			msg, err := c.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "), attachments)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Sent %s\n", msg.ID)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&attachments, "attach", "a", nil, "attachment URL (repeatable)")
	return cmd
}

func newAgentsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents and their presence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := app.client()
			if err != nil {
				return err
			}
			agents, err := c.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable(app.Out)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tSTATUS")
			for _, a := range agents {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Email, a.Role, a.Status)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <agent-id> <online|away|offline>",
		Short: "Set an agent's presence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.AgentStatus(args[1])
			if !status.Valid() {
				return fmt.Errorf("unknown agent status %q", args[1])
			}
			c, _, err := app.client()
			if err != nil {
				return err
			}
			agent, err := c.SetAgentStatus(cmd.Context(), args[0], status)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "%s is now %s\n", agent.Name, agent.Status)
			return nil
		},
	})
	return cmd
}

func newAPIKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apikeys",
		Aliases: []string{"keys"},
		Short:   "Manage widget API keys (admin)",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List API keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, _, err := app.client()
				if err != nil {
					return err
				}
				keys, err := c.ListAPIKeys(cmd.Context())
				if err != nil {
					return err
				}
				tw := newTable(app.Out)
				fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tCREATED\tLAST USED")
				for _, k := range keys {
					lastUsed := "never"
					if k.LastUsedAt != nil {
						lastUsed = humanize.Time(*k.LastUsedAt)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.Prefix, humanize.Time(k.CreatedAt), lastUsed)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create an API key and print it once",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, _, err := app.client()
				if err != nil {
					return err
				}
				k, err := c.CreateAPIKey(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printNewKey(app.Out, k)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Revoke an API key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, _, err := app.client()
				if err != nil {
					return err
				}
				if err := c.DeleteAPIKey(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "Deleted %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "regenerate <id>",
			Short: "Replace an API key's secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, _, err := app.client()
				if err != nil {
					return err
				}
				k, err := c.RegenerateAPIKey(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printNewKey(app.Out, k)
				return nil
			},
		},
	)
	return cmd
}

func printNewKey(w io.Writer, k *models.APIKey) {
	fmt.Fprintf(w, "ID:  %s\n", k.ID)
	fmt.Fprintf(w, "Key: %s\n", k.Key)
	fmt.Fprintln(w, "Store the key now, it cannot be shown again.")
}

func newExportCmd(app *App) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Export a conversation transcript to an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := app.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			conv, err := c.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}
			msgs, err := c.ListMessages(ctx, conv.ID)
			if err != nil {
				return err
			}
			if output == "" {
				output = conv.ID + ".xlsx"
			}
			return writeTranscript(output, *conv, msgs, app.Out)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <conversation-id>.xlsx)")
	return cmd
}

func writeTranscript(path string, conv models.Conversation, msgs []models.ChatMessage, out io.Writer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := export.Transcript(f, conv, msgs); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s messages to %s\n", humanize.Comma(int64(len(msgs))), path)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
