package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/docchat/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("docchat setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.APIURL = prompt(scanner, "Backend URL", cfg.APIURL)
		cfg.WSURL = prompt(scanner, "Status channel URL", cfg.WSURL)
		cfg.Wallet.Address = prompt(scanner, "Wallet address", cfg.Wallet.Address)
		cfg.Wallet.SignerCommand = prompt(scanner, "Signer command (optional)", cfg.Wallet.SignerCommand)

		inflight := prompt(scanner, "Concurrent uploads", strconv.Itoa(cfg.MaxInflightUploads))
		if n, err := strconv.Atoi(inflight); err == nil && n > 0 {
			cfg.MaxInflightUploads = n
		}

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		if cfg.Telegram.Token != "" {
			chat := prompt(scanner, "Telegram chat id", strconv.FormatInt(cfg.Telegram.ChatID, 10))
			if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
				cfg.Telegram.ChatID = id
			}
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
