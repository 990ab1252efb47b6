package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"stars/internal/log"
	gsheet "stars/internal/sheets/google"
)

const authTimeout = 5 * time.Minute

func init() {
	rootCmd.AddCommand(sheetsAuthCmd)
	sheetsAuthCmd.Flags().String("port", "8085", "Local port for the OAuth redirect")
	sheetsAuthCmd.Flags().StringP("out", "o", "", "Token file (defaults to GOOGLE_OAUTH_TOKEN_FILE, then token.json)")
}

var sheetsAuthCmd = &cobra.Command{
	Use:   "sheets-auth",
	Short: "Authorise Google Sheets access and save the OAuth token",
	Long: `sheets-auth runs the OAuth consent flow for the client in
GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE. Add
http://localhost:<port>/callback to the client's authorised redirect URIs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		port, _ := cmd.Flags().GetString("port")
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = cfg.GoogleOAuthTokenFile
		}
		if out == "" {
			out = "token.json"
		}

		oauthCfg, err := gsheet.OAuthConfig(gsheet.Credentials{
			ClientJSON: cfg.GoogleOAuthClientJSON,
			ClientFile: cfg.GoogleOAuthClientFile,
		})
		if err != nil {
			return err
		}
		oauthCfg.RedirectURL = "http://localhost:" + port + "/callback"

		state := uuid.NewString()
		codes := make(chan string, 1)
		mux := http.NewServeMux()
		mux.Handle("/callback", callbackHandler(state, codes))
		srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("OAuth callback server failed", log.FieldError, err)
			}
		}()
		defer srv.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to authorise:\n%s\n",
			oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline))

		ctx, cancel := context.WithTimeout(cmd.Context(), authTimeout)
		defer cancel()

		var code string
		select {
		case code = <-codes:
		case <-ctx.Done():
			return fmt.Errorf("waiting for authorisation: %w", ctx.Err())
		}

		tok, err := oauthCfg.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("token exchange: %w", err)
		}
		if err := saveToken(out, tok); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved token to %s\n", out)
		return nil
	},
}

// callbackHandler hands the first authorisation code carrying the expected
// state to codes.
func callbackHandler(state string, codes chan<- string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errStr := q.Get("error"); errStr != "" {
			http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		select {
		case codes <- code:
			fmt.Fprintln(w, "You may close this window and return to the terminal.")
		default:
			http.Error(w, "authorisation already received", http.StatusConflict)
		}
	})
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return fmt.Errorf("write token: %w", err)
	}
	return f.Close()
}
