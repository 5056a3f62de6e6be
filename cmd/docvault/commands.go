package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/docvault/internal/tenant"
	"github.com/kalambet/docvault/internal/vault"
)

func tenantFlag(cmd *cobra.Command) string {
	t, _ := cmd.Flags().GetString("tenant")
	return t
}

// shortID truncates an ID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document into a tenant's knowledge base",
	Long: `Upload a document into a tenant's knowledge base.

Examples:
  docvault upload --tenant acme ./handbook.pdf
  docvault upload --tenant acme ./rates.csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID := tenantFlag(cmd)

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.uploadFile(cmd.Context(), "/v1/tenants/"+tenantID+"/documents", args[0])
		if err != nil {
			return err
		}

		var result vault.UploadResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		doc := result.Document
		switch doc.Status {
		case tenant.StatusIndexed:
			printSuccess("Indexed %s as %s (%d chunks, %dms)",
				doc.OriginalFilename, doc.ID, result.ChunksCreated, result.ProcessingMS)
		case tenant.StatusFailed:
			printError("Upload of %s failed: %s", doc.OriginalFilename, doc.ErrorMessage)
		default:
			printWarning("Document %s is %s", doc.ID, doc.Status)
		}
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search a tenant's knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID := tenantFlag(cmd)
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/tenants/%s/search?q=%s&top_k=%d", tenantID, url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var out struct {
			Results []vault.SearchResult `json:"results"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if len(out.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range out.Results {
			fmt.Printf("\n%s [%s, score: %.3f] %s\n",
				colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Source, r.Score, r.DocumentFilename)
			text := r.Content
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage a tenant's documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID := tenantFlag(cmd)

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/tenants/"+tenantID+"/documents")
		if err != nil {
			return err
		}

		var docs []tenant.Document
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %-9s  %4d chunks  %s  %s\n",
				colorize(colorCyan, shortID(d.ID)),
				d.Status,
				d.ChunkCount,
				d.UploadedAt.Format(time.DateTime),
				d.OriginalFilename,
			)
		}
		return nil
	},
}

var documentsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one document record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID := tenantFlag(cmd)

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/tenants/"+tenantID+"/documents/"+args[0])
		if err != nil {
			return err
		}

		var doc any
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and all of its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID := tenantFlag(cmd)

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/tenants/"+tenantID+"/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{uploadCmd, searchCmd} {
		cmd.Flags().String("tenant", "default", "tenant identifier")
	}
	documentsCmd.PersistentFlags().String("tenant", "default", "tenant identifier")
	searchCmd.Flags().Int("limit", 5, "maximum number of results")

	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsShowCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
}
