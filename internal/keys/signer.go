package keys

import (
	"github.com/alanyoungcy/ordbot/internal/domain"
)

// PassthroughSigner implements domain.Signer by returning the unsigned PSBT
// unchanged. It exists for dry runs and integration environments where the
// marketplace accepts unsigned submissions; production deployments plug in a
// real PSBT signer behind the same interface.
type PassthroughSigner struct{}

// Sign returns the template's PSBT as-is, or "" when there is nothing to
// sign.
func (PassthroughSigner) Sign(template *domain.UnsignedTemplate) (string, error) {
	if template == nil || template.Empty() {
		return "", nil
	}
	return template.PSBTBase64, nil
}

var _ domain.Signer = PassthroughSigner{}
