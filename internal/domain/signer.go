package domain

// UnsignedTemplate is a transaction template returned by the marketplace that
// must be signed by the funding wallet before submission.
type UnsignedTemplate struct {
	PSBTBase64   string `json:"psbtBase64"`
	ToSignInputs []int  `json:"toSignInputs"`
}

// Empty reports whether there is anything to sign.
func (t *UnsignedTemplate) Empty() bool {
	return t == nil || t.PSBTBase64 == ""
}

// Signer turns an unsigned transaction template into a signed one. The
// concrete implementation (wallet software, HSM, remote signer) lives outside
// the engine. A nil template or one with no payload yields ("", nil): nothing
// to sign is a no-op, not a failure.
type Signer interface {
	Sign(template *UnsignedTemplate) (signedBase64 string, err error)
}

// Wallet carries the identity the engine bids with. The private key never
// crosses this boundary; signing goes through Signer.
type Wallet struct {
	PaymentAddress string
	ReceiveAddress string
	PublicKey      string
	Signer         Signer
}
