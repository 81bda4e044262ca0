package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/keyring"
	"github.com/Mindburn-Labs/warden/pkg/keystore"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// runKeygenCmd generates an ed25519 signing keypair for a trust level.
// The private key is sealed into the keystore; the public key is
// appended to the trust file so verification hosts only ever handle
// public material.
//
// Exit codes:
//
//	0 = keypair generated and stored
//	2 = usage or runtime error
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	storePath := cmd.String("store", "warden-keys.json", "keystore file for the private key")
	trustPath := cmd.String("trust", "warden-trust.json", "trust file for the public key")
	levelName := cmd.String("level", "", "trust level: ORG_APPROVED, VERIFIED or CORE")
	jsonOut := cmd.Bool("json", false, "print the result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if *levelName == "" {
		_, _ = fmt.Fprintln(stderr, "keygen: --level is required")
		return 2
	}
	level, err := manifest.ParseTrustLevel(*levelName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 2
	}
	if !level.Signable() {
		_, _ = fmt.Fprintf(stderr, "keygen: level %s cannot hold signing keys\n", level)
		return 2
	}

	priv, pub, err := keyring.GenerateKeyPair()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 2
	}

	ks, err := keystore.Open(*storePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 2
	}
	if err := ks.Put(context.Background(), level, priv); err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 2
	}

	tf, err := loadTrustFile(*trustPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 2
	}
	tf.add(level, pub, time.Now())
	if err := tf.save(*trustPath); err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 2
	}

	keyID := keyring.KeyID(pub)
	if *jsonOut {
		out := map[string]string{
			"level":      level.String(),
			"key_id":     keyID,
			"public_key": hex.EncodeToString(pub),
			"store":      *storePath,
			"trust":      *trustPath,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "%s✓%s generated %s keypair\n", ColorGreen, ColorReset, level)
	_, _ = fmt.Fprintf(stdout, "  key id:     %s\n", keyID)
	_, _ = fmt.Fprintf(stdout, "  private key: %s (keystore, encrypted)\n", *storePath)
	_, _ = fmt.Fprintf(stdout, "  public key:  %s (trust file)\n", *trustPath)
	return 0
}
