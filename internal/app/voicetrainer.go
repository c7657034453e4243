package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cnwinds/chatflow-nexus/internal/store"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// voiceTrainPollInterval is how often the trainer checks for voice clones
// still in the "training" state.
const voiceTrainPollInterval = 30 * time.Second

// voiceTrainTimeout bounds one provider-side cloning call. Cloning is slow
// (the provider trains on the uploaded samples) but not unbounded.
const voiceTrainTimeout = 5 * time.Minute

// runVoiceTrainer drives uploaded voice clones through the
// training → available/failed state machine: it picks up rows the /voices
// endpoint created, reads their uploaded samples back off disk, submits the
// provider-side cloning job through the TTS module named on the row, and
// records the resulting speaker ID. Same ticker-driven worker shape as the
// growth-summary worker.
func (a *App) runVoiceTrainer(ctx context.Context) {
	ticker := time.NewTicker(voiceTrainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clones, err := a.store.ListVoiceClonesInTraining(ctx)
			if err != nil {
				a.log.Warn("voice trainer: list training clones failed", "err", err)
				continue
			}
			for _, c := range clones {
				a.trainVoiceClone(ctx, c)
			}
		}
	}
}

// trainVoiceClone runs one clone's provider-side training job and advances
// its row. Unreadable samples and provider rejections mark the row failed
// (§3: failed clones stay failed, the client re-uploads); only transport-
// level errors leave it in training for the next tick to retry.
func (a *App) trainVoiceClone(ctx context.Context, c store.VoiceClone) {
	samples, err := loadVoiceSamples(c.SamplePath)
	if err != nil {
		a.log.Warn("voice trainer: load samples failed", "id", c.ID, "path", c.SamplePath, "err", err)
		if err := a.store.MarkVoiceCloneFailed(ctx, c.ID); err != nil {
			a.log.Warn("voice trainer: mark failed", "id", c.ID, "err", err)
		}
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, voiceTrainTimeout)
	result, err := a.catalog.Call(callCtx, types.ModuleTTS, c.ProviderCode, "clone_voice", samples)
	cancel()
	if err != nil {
		if types.ClassifyError(err).Retriable() {
			a.log.Warn("voice trainer: transient provider failure, will retry", "id", c.ID, "err", err)
			return
		}
		a.log.Warn("voice trainer: cloning failed", "id", c.ID, "provider", c.ProviderCode, "err", err)
		if err := a.store.MarkVoiceCloneFailed(ctx, c.ID); err != nil {
			a.log.Warn("voice trainer: mark failed", "id", c.ID, "err", err)
		}
		return
	}

	profile, ok := result.(*types.VoiceProfile)
	if !ok || profile == nil {
		a.log.Error("voice trainer: tts module returned unexpected clone result", "id", c.ID, "type", fmt.Sprintf("%T", result))
		if err := a.store.MarkVoiceCloneFailed(ctx, c.ID); err != nil {
			a.log.Warn("voice trainer: mark failed", "id", c.ID, "err", err)
		}
		return
	}

	if err := a.store.MarkVoiceCloneAvailable(ctx, c.ID, profile.ID); err != nil {
		a.log.Warn("voice trainer: mark available", "id", c.ID, "err", err)
		return
	}
	a.log.Info("voice clone trained", "id", c.ID, "provider", c.ProviderCode, "voice_id", profile.ID)
}

// loadVoiceSamples reads every regular file under dir, in name order, as one
// training sample each.
func loadVoiceSamples(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sample dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no samples under %s", dir)
	}
	sort.Strings(names)

	samples := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read sample %s: %w", name, err)
		}
		samples = append(samples, data)
	}
	return samples, nil
}
