package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"rekindle/internal/consumer"
	"rekindle/internal/resume"
)

var (
	chatServer       string
	chatConversation string
	chatSpace        string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive panel that resumes a conversation or space",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		subject := resume.SubjectRef{ConversationID: chatConversation, SpaceID: chatSpace}
		if err := subject.Validate(); err != nil {
			return fmt.Errorf("pass exactly one of --conversation or --space")
		}

		session := consumer.NewSession(consumer.NewClient(chatServer), subject, logger)

		program := tea.NewProgram(newChatModel(session), tea.WithAltScreen())
		_, err = program.Run()
		return err
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatServer, "server", "http://127.0.0.1:8787", "relay base URL")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "conversation id to resume")
	chatCmd.Flags().StringVar(&chatSpace, "space", "", "space id to resume")
}
