package fundme

import (
	"bufio"
	"crypto/ecdsa"
	"fmt"
	"io"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/knadh/koanf"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

// loadPrivateKey reads the signing key from --eth-pk, or from STDIN when unset.
// A terminal gets a hidden prompt.
func loadPrivateKey(konfig *koanf.Koanf, stdin *os.File) (*ecdsa.PrivateKey, error) {
	pkHex := konfig.String(flagEthPK)

	if pkHex == "" {
		var err error
		if pkHex, err = readSecret(stdin, "Ethereum private key: "); err != nil {
			return nil, err
		}
	}

	privKey, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(pkHex), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode private key")
	}

	return privKey, nil
}

func readSecret(in *os.File, prompt string) (string, error) {
	fd := int(in.Fd())

	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", errors.Wrap(err, "failed to read secret")
		}

		return string(secret), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", errors.Wrap(err, "failed to read secret from STDIN")
	}

	if strings.TrimSpace(line) == "" {
		return "", errors.Errorf("no private key provided; set --%s or pipe it on STDIN", flagEthPK)
	}

	return line, nil
}
