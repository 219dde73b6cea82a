package metrics

import (
	"math"

	"github.com/kirbu123/olimp/tensor"
)

// VAELoss is the variational autoencoder training objective: a summed L1
// reconstruction term plus the closed-form KL divergence of the encoder's
// Gaussian posterior against a standard normal. It is a whole-batch scalar
// and couples to the model's latent statistics rather than to a pure image
// comparison.
func VAELoss(pred, target, mu, logVar *tensor.Tensor) (float64, error) {
	if err := checkPair(pred, target); err != nil {
		return 0, err
	}
	if err := checkPair(mu, logVar); err != nil {
		return 0, err
	}
	var l1 float64
	for i := range pred.Data {
		l1 += math.Abs(float64(pred.Data[i]) - float64(target.Data[i]))
	}
	var kld float64
	for i := range mu.Data {
		m := float64(mu.Data[i])
		lv := float64(logVar.Data[i])
		kld += 1 + lv - m*m - math.Exp(lv)
	}
	return l1 - 0.5*kld, nil
}
