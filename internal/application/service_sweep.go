package application

import "context"

// SweepExpired removes refresh sessions and verification codes that stopped
// being usable more than the retention period ago.
func (s *Service) SweepExpired(ctx context.Context) (SweepResult, error) {
	cutoff := s.nowFn().Add(-s.cfg.SweepRetention)

	tokens, err := s.registry.Sweep(ctx, cutoff)
	if err != nil {
		return SweepResult{}, err
	}
	codes, err := s.codes.Sweep(ctx, cutoff)
	if err != nil {
		return SweepResult{RefreshTokens: tokens}, err
	}
	return SweepResult{RefreshTokens: tokens, VerificationCodes: codes}, nil
}
