package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"

	"github.com/openfroyo/lanekeeper/pkg/config"
	"github.com/openfroyo/lanekeeper/pkg/stores"
)

// DefaultKeyPath is where init writes the key used by remote lanes.
const DefaultKeyPath = ".lanekeeper/keys/id_ed25519"

func newInitCommand() *cobra.Command {
	var (
		force  bool
		sshKey bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a lanekeeper workspace",
		Long: `Write the default configuration, create the artifact directory and the run
history database. With --ssh-key an ed25519 key pair for remote lanes is
generated as well.`,
		Example: `  # Initialize in the current directory
  lanekeeper init

  # Initialize with a custom config path and a key for remote lanes
  lanekeeper init --config ci/lanekeeper.yaml --ssh-key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path := configPath
			if path == "" {
				path = "lanekeeper.yaml"
			}
			log.Info().Str("config", path).Bool("ssh_key", sshKey).Msg("Initializing workspace")

			cfg := config.Default()

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if sshKey {
				cfg.Remotes = map[string]config.RemoteConfig{
					"builder": {Host: "127.0.0.1", Port: 22, User: "ci", Auth: "key", KeyFile: DefaultKeyPath, ConnectTimeoutSeconds: 30},
				}
			}

			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Printf("✓ Created config file: %s\n", path)

			if err := os.MkdirAll(cfg.Artifacts.Dir, 0o755); err != nil {
				return fmt.Errorf("failed to create artifact directory: %w", err)
			}
			fmt.Printf("✓ Created artifact directory: %s\n", cfg.Artifacts.Dir)

			store, err := stores.Open(ctx, cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to initialize run history: %w", err)
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Printf("✓ Initialized run history: %s\n", cfg.Store.Path)

			if sshKey {
				created, err := generateKey(DefaultKeyPath)
				if err != nil {
					return err
				}
				if created {
					fmt.Printf("✓ Generated SSH keypair: %s\n", DefaultKeyPath)
				} else {
					fmt.Printf("✓ SSH keypair already exists: %s\n", DefaultKeyPath)
				}
			}

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Check the plan for a pull request:\n")
			fmt.Printf("     lanekeeper plan --trigger pull_request\n\n")
			fmt.Printf("  2. Run the nightly profile:\n")
			fmt.Printf("     lanekeeper run --trigger schedule --cadence daily\n\n")

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&sshKey, "ssh-key", false, "generate an ed25519 key pair and a sample remote")

	return cmd
}

// generateKey writes an OpenSSH ed25519 key pair at path unless one exists.
func generateKey(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("failed to create key directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return false, fmt.Errorf("failed to generate keypair: %w", err)
	}

	block, err := sshpkg.MarshalPrivateKey(privKey, "lanekeeper")
	if err != nil {
		return false, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return false, fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	if err := os.WriteFile(path+".pub", sshpkg.MarshalAuthorizedKey(sshPubKey), 0o644); err != nil {
		return false, fmt.Errorf("failed to write public key: %w", err)
	}
	return true, nil
}
