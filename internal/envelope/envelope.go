// Package envelope encrypts and decrypts unit streams with OpenPGP so
// payloads stay confidential and tamper-evident between backends.
package envelope

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	pgperrors "github.com/ProtonMail/go-crypto/openpgp/errors"

	"github.com/lychevd/ETL/internal/domain"
	"github.com/lychevd/ETL/internal/secrets"
)

const armorPrefix = "-----BEGIN PGP"

// Config locates the key material for one side of an envelope.
type Config struct {
	// KeyRef points at an armored or binary key ring: public keys for
	// encryption, private keys for decryption.
	KeyRef string
	// PassphraseRef optionally unlocks encrypted private keys.
	PassphraseRef string
	// Armor switches encrypted output to ASCII armor. Decryption
	// accepts both encodings regardless.
	Armor bool
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.KeyRef) == "" {
		return errors.New("key ref is required")
	}
	return nil
}

// Envelope wraps one key ring for streaming encryption or decryption.
type Envelope struct {
	keys  openpgp.EntityList
	armor bool
}

func New(ctx context.Context, resolver *secrets.Resolver, cfg Config) (*Envelope, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigErr(err)
	}
	keyData, err := resolver.ResolveBytes(ctx, cfg.KeyRef)
	if err != nil {
		return nil, domain.ConfigErr(fmt.Errorf("resolve key ring: %w", err))
	}
	keys, err := readKeyRing(keyData)
	if err != nil {
		return nil, domain.ConfigErr(err)
	}
	if cfg.PassphraseRef != "" {
		passphrase, err := resolver.Resolve(ctx, cfg.PassphraseRef)
		if err != nil {
			return nil, domain.ConfigErr(fmt.Errorf("resolve passphrase: %w", err))
		}
		if err := unlock(keys, []byte(passphrase)); err != nil {
			return nil, domain.ConfigErr(err)
		}
	}
	return &Envelope{keys: keys, armor: cfg.Armor}, nil
}

// Encrypt returns a writer that encrypts everything written to it for
// the ring's recipients. Close finalizes the envelope and must be
// called before the destination writer is committed.
func (e *Envelope) Encrypt(dst io.Writer) (io.WriteCloser, error) {
	if e.armor {
		aw, err := armor.Encode(dst, "PGP MESSAGE", nil)
		if err != nil {
			return nil, domain.PermanentErr(fmt.Errorf("start armor: %w", err))
		}
		plain, err := openpgp.Encrypt(aw, e.keys, nil, nil, nil)
		if err != nil {
			_ = aw.Close()
			return nil, domain.PermanentErr(fmt.Errorf("start envelope: %w", err))
		}
		return &armoredWriter{plain: plain, armor: aw}, nil
	}
	plain, err := openpgp.Encrypt(dst, e.keys, nil, nil, nil)
	if err != nil {
		return nil, domain.PermanentErr(fmt.Errorf("start envelope: %w", err))
	}
	return plain, nil
}

// Decrypt returns a reader yielding the plaintext of src. Tampered or
// truncated payloads surface an integrity error from Read, which can
// arrive as late as the final authentication check at end of stream.
func (e *Envelope) Decrypt(src io.Reader) (io.Reader, error) {
	br := bufio.NewReader(src)
	msg := io.Reader(br)
	if peek, _ := br.Peek(len(armorPrefix)); string(peek) == armorPrefix {
		block, err := armor.Decode(br)
		if err != nil {
			return nil, domain.IntegrityErr(fmt.Errorf("decode armor: %w", err))
		}
		msg = block.Body
	}

	md, err := openpgp.ReadMessage(msg, e.keys, nil, nil)
	if err != nil {
		if errors.Is(err, pgperrors.ErrKeyIncorrect) {
			return nil, domain.PermanentErr(fmt.Errorf("open envelope: %w", err))
		}
		return nil, domain.IntegrityErr(fmt.Errorf("open envelope: %w", err))
	}
	return &verifiedReader{r: md.UnverifiedBody}, nil
}

// verifiedReader converts every payload error, including the deferred
// end-of-stream authentication failure, into an integrity fault.
type verifiedReader struct {
	r io.Reader
}

func (v *verifiedReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if err != nil && err != io.EOF {
		err = domain.IntegrityErr(fmt.Errorf("envelope payload: %w", err))
	}
	return n, err
}

type armoredWriter struct {
	plain io.WriteCloser
	armor io.WriteCloser
}

func (w *armoredWriter) Write(p []byte) (int, error) { return w.plain.Write(p) }

func (w *armoredWriter) Close() error {
	if err := w.plain.Close(); err != nil {
		return domain.IntegrityErr(fmt.Errorf("seal envelope: %w", err))
	}
	return w.armor.Close()
}

func readKeyRing(data []byte) (openpgp.EntityList, error) {
	keys, armorErr := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if armorErr == nil {
		return keys, nil
	}
	keys, binErr := openpgp.ReadKeyRing(bytes.NewReader(data))
	if binErr == nil {
		return keys, nil
	}
	return nil, fmt.Errorf("read key ring: %w", armorErr)
}

func unlock(keys openpgp.EntityList, passphrase []byte) error {
	for _, entity := range keys {
		if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
			if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
				return fmt.Errorf("unlock private key: %w", err)
			}
		}
		for _, sub := range entity.Subkeys {
			if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
				if err := sub.PrivateKey.Decrypt(passphrase); err != nil {
					return fmt.Errorf("unlock subkey: %w", err)
				}
			}
		}
	}
	return nil
}
