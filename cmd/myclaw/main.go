package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/myclaw/internal/config"
	"github.com/stellarlinkco/myclaw/internal/gateway"
	"github.com/stellarlinkco/myclaw/internal/memory"
)

var rootCmd = &cobra.Command{
	Use:   "myclaw",
	Short: "myclaw - group chat bot gateway",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway (channels + orchestrator + cron + memory)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and persona workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show myclaw status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'myclaw onboard' or set MYCLAW_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		if cfg.Persona.Dir == "" {
			cfg.Persona.Dir = filepath.Join(cfgDir, "personas")
		}
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	personaDir := cfg.Persona.Dir
	if personaDir == "" {
		personaDir = filepath.Join(cfgDir, "personas")
	}

	defaultPersonaDir := filepath.Join(personaDir, "default")
	if err := os.MkdirAll(defaultPersonaDir, 0755); err != nil {
		return fmt.Errorf("create persona dir: %w", err)
	}
	writeIfNotExists(filepath.Join(defaultPersonaDir, "PERSONA.md"), defaultPersonaMD)

	if err := migrateLegacyMemory(cfg); err != nil {
		fmt.Printf("Warning: legacy memory migration failed: %v\n", err)
	}

	fmt.Printf("Persona workspace ready: %s\n", personaDir)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set MYCLAW_API_KEY environment variable")
	fmt.Println("  3. Enable a channel in the config and run 'myclaw gateway'")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Feishu: enabled=%v\n", cfg.Channels.Feishu.Enabled)
	fmt.Printf("WeCom: enabled=%v\n", cfg.Channels.WeCom.Enabled)
	fmt.Printf("WhatsApp: enabled=%v\n", cfg.Channels.WhatsApp.Enabled)
	fmt.Printf("WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)

	dbPath := cfg.Memory.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "memory.db")
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("Memory: not initialized (run 'myclaw gateway' once to create it)")
	} else {
		engine, err := memory.NewEngine(dbPath)
		if err != nil {
			fmt.Printf("Memory: error (%v)\n", err)
		} else {
			defer engine.Close()
			if tier1, err := engine.LoadTier1(); err == nil && tier1 != "" {
				fmt.Printf("Memory: %d bytes (tier1 profile)\n", len(tier1))
			} else {
				fmt.Println("Memory: empty")
			}
		}
	}

	return nil
}

// migrateLegacyMemory imports a pre-gateway workspace's MEMORY.md and
// daily event files into the SQLite memory engine, if any are found.
// A no-op when the workspace never had file-based memory.
func migrateLegacyMemory(cfg *config.Config) error {
	if _, err := os.Stat(filepath.Join(cfg.Agent.Workspace, "memory")); os.IsNotExist(err) {
		return nil
	}

	dbPath := cfg.Memory.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "memory.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}

	engine, err := memory.NewEngine(dbPath)
	if err != nil {
		return fmt.Errorf("open memory engine: %w", err)
	}
	defer engine.Close()

	if err := memory.MigrateFromFiles(cfg.Agent.Workspace, engine); err != nil {
		return fmt.Errorf("migrate legacy memory: %w", err)
	}
	fmt.Println("Migrated legacy file-based memory into the SQLite store.")
	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultPersonaMD = `---
name: 助手
description: 一个话不多但很real的群友
tone: 随性、简短、偶尔毒舌
slangLevel: 0.4
intimacy: 0.3
constraints:
  - 禁止AI腔
  - 禁止讲大道理
  - 禁止格式化输出
  - 禁止分点
  - 禁止括号动作描写
---

默认人设，群里话不多，该接话接话，该冷场冷场。
`
