package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"fanlink-client/internal/gate"
	"fanlink-client/internal/models"
)

func init() {
	sendCmd.Flags().String("conversation", "", "conversation id to send into")
	sendCmd.Flags().String("to", "", "recipient user id when no conversation exists yet")
	sendCmd.Flags().String("text", "", "message text")
	sendCmd.Flags().String("file", "", "attachment path instead of text")
	sendCmd.Flags().String("content-type", "", "attachment MIME type")
	sendCmd.Flags().Bool("ppv", false, "send as pay-per-view")
	sendCmd.Flags().Float64("price", 0, "pay-per-view price")
	sendCmd.Flags().String("preview", "", "teaser text shown before purchase")
	sendCmd.Flags().Bool("tip", false, "attach a tip")
	sendCmd.Flags().Float64("amount", 0, "tip amount")
	sendCmd.Flags().Int64("expires-in", 0, "seconds until the message expires")

	payCmd.Flags().String("conversation", "", "conversation holding the message")
	payCmd.Flags().Bool("wait", false, "poll until the checkout completes")
	_ = payCmd.MarkFlagRequired("conversation")

	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(conversationsCmd, openCmd, sendCmd, payCmd, payStatusCmd, watchCmd)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()
		if _, err := app.mustLogin(); err != nil {
			return err
		}

		convs, err := app.store.LoadConversations(cmd.Context())
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("no conversations yet")
			return nil
		}
		for _, c := range convs {
			line := fmt.Sprintf("%s  %s", c.ID, c.OtherParty.DisplayName)
			if c.UnreadCount > 0 {
				line += fmt.Sprintf("  (%d unread)", c.UnreadCount)
			}
			if c.LastMessage != nil && c.LastMessage.Excerpt != "" {
				line += "  " + c.LastMessage.Excerpt
			}
			fmt.Println(line)
		}
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Show a conversation's messages, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()
		viewer, err := app.mustLogin()
		if err != nil {
			return err
		}

		msgs, err := app.store.OpenConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Println(renderLine(app.gate, viewer, m))
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a text or attachment message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()
		if _, err := app.mustLogin(); err != nil {
			return err
		}

		conversationID, _ := cmd.Flags().GetString("conversation")
		recipientID, _ := cmd.Flags().GetString("to")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")

		var opts models.SendOptions
		opts.PayPerView, _ = cmd.Flags().GetBool("ppv")
		opts.Price, _ = cmd.Flags().GetFloat64("price")
		opts.PreviewText, _ = cmd.Flags().GetString("preview")
		opts.Tip, _ = cmd.Flags().GetBool("tip")
		opts.TipAmount, _ = cmd.Flags().GetFloat64("amount")
		opts.ExpiresInSeconds, _ = cmd.Flags().GetInt64("expires-in")

		ctx := cmd.Context()
		switch {
		case file != "":
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			contentType, _ := cmd.Flags().GetString("content-type")
			name := filepath.Base(file)
			if conversationID != "" {
				_, err = app.store.SendAttachment(ctx, conversationID, name, contentType, f, opts)
			} else {
				_, err = app.store.SendAttachmentTo(ctx, recipientID, name, contentType, f, opts)
			}
			if err != nil {
				return err
			}
		case text != "":
			var err error
			if conversationID != "" {
				_, err = app.store.SendText(ctx, conversationID, text, opts)
			} else {
				_, err = app.store.SendTextTo(ctx, recipientID, text, opts)
			}
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("either --text or --file is required")
		}

		fmt.Println("sent")
		return nil
	},
}

var payCmd = &cobra.Command{
	Use:   "pay <message-id>",
	Short: "Start checkout for a locked message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()
		if _, err := app.mustLogin(); err != nil {
			return err
		}

		ctx := cmd.Context()
		conversationID, _ := cmd.Flags().GetString("conversation")
		msgs, err := app.store.OpenConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		var msg models.Message
		found := false
		for _, m := range msgs {
			if m.ID == args[0] {
				msg = m
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("message %s not found in conversation", args[0])
		}

		checkout, err := app.gate.Purchase(ctx, msg)
		if err != nil {
			return err
		}
		fmt.Printf("complete the checkout at: %s\n", checkout.URL)

		wait, _ := cmd.Flags().GetBool("wait")
		if !wait {
			fmt.Printf("then confirm with: fanlink pay-status %s\n", checkout.SessionID)
			return nil
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				paid, err := app.gate.ConfirmPurchase(ctx, checkout.SessionID)
				if err != nil {
					return err
				}
				if paid {
					fmt.Println("unlocked")
					return nil
				}
			}
		}
	},
}

var payStatusCmd = &cobra.Command{
	Use:   "pay-status <session-id>",
	Short: "Check a checkout session and unlock its message when paid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()
		if _, err := app.mustLogin(); err != nil {
			return err
		}

		paid, err := app.gate.ConfirmPurchase(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if paid {
			fmt.Println("paid")
		} else {
			fmt.Println("pending")
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream incoming messages until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()
		viewer, err := app.mustLogin()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if _, err := app.store.LoadConversations(ctx); err != nil {
			return err
		}

		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			go func() {
				if err := http.ListenAndServe(addr, mux); err != nil {
					app.log.Error("metrics server failed", "error", err)
				}
			}()
		}

		ch := app.newChannel()
		unsubscribe := ch.OnMessageArrived(func(msg models.Message) {
			if err := app.store.ApplyArrival(ctx, msg); err != nil {
				app.log.Warn("arrival merge failed", "error", err)
			}
			fmt.Println(renderLine(app.gate, viewer, msg))
		})
		defer unsubscribe()

		ch.Connect(viewer.ID)
		fmt.Fprintln(os.Stderr, "watching for messages, ctrl-c to stop")

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		ch.Disconnect()
		return nil
	},
}

// renderLine formats one message the way the conversation view shows
// it, honoring the visibility decision.
func renderLine(g *gate.Gate, viewer models.Identity, m models.Message) string {
	stamp := m.CreatedAt.Local().Format("15:04")
	prefix := fmt.Sprintf("%s %s  ", stamp, m.SenderID)

	switch g.Decide(viewer, m) {
	case gate.Expired:
		return prefix + "[expired]"
	case gate.Preview:
		return prefix + fmt.Sprintf("%s [locked, $%.2f to unlock: fanlink pay %s]", *m.PreviewText, price(m), m.ID)
	case gate.Locked:
		return prefix + fmt.Sprintf("[locked %s, $%.2f to unlock: fanlink pay %s]", m.Type, price(m), m.ID)
	}

	if m.Type != models.MessageText {
		return prefix + fmt.Sprintf("[%s: %s]", m.Type, m.ContentRef)
	}
	return prefix + m.Text
}

func price(m models.Message) float64 {
	if m.Price == nil {
		return 0
	}
	return *m.Price
}
