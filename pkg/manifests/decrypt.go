package manifests

import (
	sops "github.com/getsops/sops/v3"
	"github.com/getsops/sops/v3/decrypt"
	"github.com/pkg/errors"
)

// softDecrypt tries to decrypt data with sops; if the data has not
// been encrypted with sops, it is returned as it is.
func softDecrypt(rawData []byte) ([]byte, error) {
	decryptedData, err := decrypt.Data(rawData, "yaml")
	if err == sops.MetadataNotFound {
		return rawData, nil
	} else if err != nil {
		return rawData, errors.Wrap(err, "failed to decrypt manifest")
	}
	return decryptedData, nil
}
