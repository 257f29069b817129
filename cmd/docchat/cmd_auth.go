package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/docchat/internal/app"
	"github.com/user/docchat/internal/session"
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)

	loginCmd.Flags().String("address", "", "wallet address (default wallet.address)")
	loginCmd.Flags().String("signature", "", "signature of the challenge message")
	loginCmd.Flags().String("signer-cmd", "", "command that signs the challenge read from stdin (default wallet.signer_command)")
	loginCmd.Flags().String("token", "", "store a token issued elsewhere instead of signing")
	loginCmd.MarkFlagsMutuallyExclusive("signature", "signer-cmd", "token")
}

// promptSigner shows the challenge and reads the signature from stdin.
type promptSigner struct {
	in *bufio.Scanner
}

func (p promptSigner) Sign(_ context.Context, message string) (string, error) {
	fmt.Println("Sign this message with your wallet:")
	fmt.Println()
	fmt.Println("  " + message)
	fmt.Println()
	fmt.Print("Signature: ")
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no signature entered")
	}
	return strings.TrimSpace(p.in.Text()), nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with a wallet signature",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		address, _ := cmd.Flags().GetString("address")
		signature, _ := cmd.Flags().GetString("signature")
		signerCmd, _ := cmd.Flags().GetString("signer-cmd")
		token, _ := cmd.Flags().GetString("token")

		a, err := newApp(loadConfig(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if address == "" {
			address = a.Config.Wallet.Address
		}
		if address == "" {
			return errors.New("no wallet address: pass --address or set wallet.address")
		}

		if token != "" {
			cred, err := a.UseToken(address, token)
			if err != nil {
				return err
			}
			printCredential(cred)
			return nil
		}

		var signer session.Signer
		switch {
		case signature != "":
			signer = session.StaticSigner(signature)
		case signerCmd != "" || a.Config.Wallet.SignerCommand != "":
			if signerCmd == "" {
				signerCmd = a.Config.Wallet.SignerCommand
			}
			cs, err := session.ParseCommandSigner(signerCmd)
			if err != nil {
				return err
			}
			signer = cs
		default:
			signer = promptSigner{in: bufio.NewScanner(os.Stdin)}
		}

		ctx, cancel := signalContext()
		defer cancel()
		cred, err := a.Login(ctx, signer, address)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		printCredential(cred)
		return nil
	},
}

func printCredential(cred session.Credential) {
	fmt.Fprintf(os.Stdout, "Authenticated as %s.\n", cred.Address)
	if !cred.ExpiresAt.IsZero() {
		fmt.Fprintf(os.Stdout, "Token expires %s.\n", cred.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(loadConfig(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Logout(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}
