// Package export renders conversation transcripts as XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xuri/excelize/v2"

	"sozuri-connect/internal/models"
)

const (
	TranscriptSheet   = "Transcript"
	ConversationSheet = "Conversation"

	timeLayout = "2006-01-02 15:04:05"
)

var transcriptHeaders = []string{"Time", "Sender", "Sender ID", "Message", "Status", "Attachments"}

// Transcript writes one workbook with the messages of conv on the first sheet
// and its details on the second.
func Transcript(w io.Writer, conv models.Conversation, msgs []models.ChatMessage) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", TranscriptSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRow(f, TranscriptSheet, 1, toCells(transcriptHeaders)); err != nil {
		return err
	}
	for i, m := range msgs {
		row := []interface{}{
			m.Timestamp.UTC().Format(timeLayout),
			string(m.SenderType),
			m.SenderID,
			m.Content,
			string(m.Status),
			describeAttachments(m.Attachments),
		}
		if err := writeRow(f, TranscriptSheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(ConversationSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	for i, kv := range conversationDetails(conv, len(msgs)) {
		if err := writeRow(f, ConversationSheet, i+1, kv); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func conversationDetails(conv models.Conversation, count int) [][]interface{} {
	agent := ""
	if conv.Agent != nil {
		agent = conv.Agent.Name
	}
	return [][]interface{}{
		{"Conversation ID", conv.ID},
		{"Customer", conv.Customer.Name},
		{"Customer email", conv.Customer.Email},
		{"Agent", agent},
		{"Status", string(conv.Status)},
		{"Created", formatTime(conv.CreatedAt)},
		{"Updated", formatTime(conv.UpdatedAt)},
		{"Tags", strings.Join(conv.Tags, ", ")},
		{"Messages", count},
	}
}

func describeAttachments(atts []models.Attachment) string {
	parts := make([]string, 0, len(atts))
	for _, a := range atts {
		if a.Size > 0 {
			parts = append(parts, fmt.Sprintf("%s (%s)", a.Filename, humanize.Bytes(uint64(a.Size))))
			continue
		}
		parts = append(parts, a.Filename)
	}
	return strings.Join(parts, "; ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func toCells(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}
