package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"rekindle/internal/store"
)

var (
	importID    string
	importTitle string
	importNote  string
)

// transcriptFile is the JSON shape produced by the capture tooling:
// a title, an optional note, and the ordered turn list.
type transcriptFile struct {
	Title string             `json:"title"`
	Note  string             `json:"note"`
	Turns []store.StoredTurn `json:"turns"`
}

var importCmd = &cobra.Command{
	Use:   "import <transcript.json>",
	Short: "Load a captured transcript into the store as a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		var transcript transcriptFile
		if err := json.Unmarshal(data, &transcript); err != nil {
			return fmt.Errorf("parse transcript: %w", err)
		}
		if len(transcript.Turns) == 0 {
			return fmt.Errorf("transcript has no turns")
		}

		st, err := store.NewLocalStore(cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		conv := &store.Conversation{
			ID:    importID,
			Title: transcript.Title,
			Note:  transcript.Note,
			Turns: transcript.Turns,
		}
		if conv.ID == "" {
			conv.ID = uuid.NewString()
		}
		if importTitle != "" {
			conv.Title = importTitle
		}
		if importNote != "" {
			conv.Note = importNote
		}

		if err := st.PutConversation(context.Background(), conv); err != nil {
			return err
		}

		fmt.Printf("Imported conversation %s (%d turns)\n", conv.ID, len(conv.Turns))
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importID, "id", "", "conversation id (random when omitted)")
	importCmd.Flags().StringVar(&importTitle, "title", "", "override the transcript title")
	importCmd.Flags().StringVar(&importNote, "note", "", "override the transcript note")
}
