package main

import (
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/tarenord/seqveil"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// .env is optional and never overrides exported variables.
	_ = godotenv.Load()

	command := os.Args[1]
	switch command {
	case "init":
		initCommand(os.Args[2:])
	case "install":
		installCommand(os.Args[2:])
	case "uninstall":
		uninstallCommand(os.Args[2:])
	case "attach":
		attachCommand(os.Args[2:])
	case "detach":
		detachCommand(os.Args[2:])
	case "list":
		listCommand(os.Args[2:])
	case "derive-key":
		deriveKeyCommand(os.Args[2:])
	case "verify":
		verifyCommand(os.Args[2:])
	case "snapshot":
		snapshotCommand(os.Args[2:])
	case "version":
		versionCommand()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  init        Initialize configuration file\n")
	fmt.Fprintf(os.Stderr, "  install     Install the PL/pgSQL functions into a PostgreSQL schema\n")
	fmt.Fprintf(os.Stderr, "  uninstall   Drop the installed schema\n")
	fmt.Fprintf(os.Stderr, "  attach      Record a binding and attach its trigger\n")
	fmt.Fprintf(os.Stderr, "  detach      Drop a binding's trigger and retire it\n")
	fmt.Fprintf(os.Stderr, "  list        List recorded bindings\n")
	fmt.Fprintf(os.Stderr, "  derive-key  Print the derived key for a binding identity\n")
	fmt.Fprintf(os.Stderr, "  verify      Run the permutation self-test\n")
	fmt.Fprintf(os.Stderr, "  snapshot    Export a manifest snapshot to a file or S3\n")
	fmt.Fprintf(os.Stderr, "  version     Show version information\n")
	fmt.Fprintf(os.Stderr, "\nRun '%s <command> -h' for help on a specific command.\n", os.Args[0])
}

func initCommand(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite existing configuration file")
	salt := fs.Int64("salt", -1, "Installation salt (default: random)")

	fs.Parse(args)

	configPath := defaultConfigFile
	if !*force {
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(os.Stderr, "Configuration file %s already exists. Use -force to overwrite.\n", configPath)
			os.Exit(1)
		}
	}

	var value uint32
	switch {
	case *salt < 0:
		value = randomSalt()
	case *salt > int64(seqveil.MaxKey):
		fmt.Fprintf(os.Stderr, "Salt must be below 2^%d, got %d\n", seqveil.KeyBits, *salt)
		os.Exit(1)
	default:
		value = uint32(*salt)
	}

	fmt.Printf("Creating configuration file at %s...\n", configPath)

	cfg := seqveil.Config{
		Salt:           &value,
		DefaultRounds:  seqveil.DefaultRounds,
		PostgresSchema: seqveil.DefaultPostgresSchema,
		SnapshotPrefix: seqveil.DefaultSnapshotPrefix,
	}
	if err := seqveil.SaveConfigToFile(cfg, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration file created with salt %d.\n", value)
	fmt.Println("The salt is shared by every binding of this installation; changing it later breaks every stored identifier.")
}

// randomSalt draws a fresh 31-bit installation salt.
func randomSalt() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate a random salt: %v\n", err)
		os.Exit(1)
	}
	return binary.BigEndian.Uint32(buf[:]) & seqveil.MaxKey
}

func versionCommand() {
	fmt.Printf("seqveil-admin version %s\n", seqveil.Version)
	fmt.Println("Administration tool for the seqveil identifier obfuscation library")
	fmt.Println("")
	fmt.Println("Features:")
	fmt.Println("  - Keyed Feistel permutation over even widths up to 62 bits")
	fmt.Println("  - Optional quantized time prefix, raw or encrypted")
	fmt.Println("  - PostgreSQL install with bit-compatible PL/pgSQL functions")
	fmt.Println("  - SQLite binding registry that refuses parameter drift")
	fmt.Println("  - Manifest snapshots to file or S3")
	fmt.Println("")
	fmt.Println("Supported key sources: derived, static, master, vault, aws-secrets-manager")
	fmt.Println("Supported databases: PostgreSQL 14+")
}
