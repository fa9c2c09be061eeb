package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/blob"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/wallet"
)

// ErrProfileNotFound is returned when no instructor profile exists for the
// acting address, including right after one was created and still could not
// be read back.
var ErrProfileNotFound = errors.New("instructor profile not found")

// ProfileInput is the editable part of an instructor profile.
// A nil Avatar keeps the current avatar on update and leaves it empty on create.
type ProfileInput struct {
	Avatar   *File
	About    string
	Contacts string
}

// ProfileResult describes a confirmed profile transaction.
type ProfileResult struct {
	Digest    string `json:"digest"`
	ProfileID string `json:"profileId,omitempty"`
}

// Profiles reads and maintains the acting instructor's profile.
type Profiles struct {
	reader   ledger.Reader
	session  wallet.Session
	contract ledger.Contract
	blobs    blob.Store
	waiter   ledger.TxWaiter
	delay    time.Duration
}

// NewProfiles creates a Profiles. waiter may be nil, in which case reads after
// a write pause for delay instead.
func NewProfiles(reader ledger.Reader, session wallet.Session, contract ledger.Contract, blobs blob.Store, waiter ledger.TxWaiter, delay time.Duration) *Profiles {
	return &Profiles{reader: reader, session: session, contract: contract, blobs: blobs, waiter: waiter, delay: delay}
}

func (p *Profiles) address() (string, error) {
	addr, ok := p.session.Address()
	if !ok {
		return "", wallet.ErrDisconnected
	}
	return addr, nil
}

// Get returns the first profile owned by the acting address.
func (p *Profiles) Get(ctx context.Context) (*model.InstructorProfile, error) {
	addr, err := p.address()
	if err != nil {
		return nil, err
	}
	return p.lookup(ctx, addr)
}

func (p *Profiles) lookup(ctx context.Context, owner string) (*model.InstructorProfile, error) {
	objs, err := p.reader.ListOwned(ctx, owner, p.contract.StructType(ledger.StructProfile))
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	if len(objs) == 0 {
		return nil, ErrProfileNotFound
	}
	prof := ledger.DecodeProfile(&objs[0])
	return &prof, nil
}

// Create submits create-profile, waits for it to become readable and returns
// the new profile id. It does not check for an existing profile.
func (p *Profiles) Create(ctx context.Context, in ProfileInput) (*ProfileResult, error) {
	addr, err := p.address()
	if err != nil {
		return nil, err
	}
	avatar := ""
	if in.Avatar != nil {
		if avatar, err = p.blobs.Upload(ctx, in.Avatar.Data, in.Avatar.ContentType); err != nil {
			return nil, fmt.Errorf("upload avatar: %w", err)
		}
	}
	res, err := p.session.SignAndExecute(ctx, p.contract.CreateProfile(avatar, in.About, in.Contacts))
	if err != nil {
		return nil, err
	}
	slog.Info("instructor profile created", "owner", addr, "digest", res.Digest)

	if err := p.waitIndexed(ctx, res.Digest); err != nil {
		return nil, err
	}
	prof, err := p.lookup(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &ProfileResult{Digest: res.Digest, ProfileID: prof.ID}, nil
}

// Update replaces about and contacts in place, and the avatar when one is given.
func (p *Profiles) Update(ctx context.Context, in ProfileInput) (*ProfileResult, error) {
	cur, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	avatar := cur.AvatarBlobID
	if in.Avatar != nil {
		if avatar, err = p.blobs.Upload(ctx, in.Avatar.Data, in.Avatar.ContentType); err != nil {
			return nil, fmt.Errorf("upload avatar: %w", err)
		}
	}
	res, err := p.session.SignAndExecute(ctx, p.contract.UpdateProfile(cur.ID, avatar, in.About, in.Contacts))
	if err != nil {
		return nil, err
	}
	slog.Info("instructor profile updated", "profile_id", cur.ID, "digest", res.Digest)
	return &ProfileResult{Digest: res.Digest, ProfileID: cur.ID}, nil
}

// waitIndexed blocks until digest's effects are readable: through the ledger's
// own signal when it has one, otherwise for the configured delay.
func (p *Profiles) waitIndexed(ctx context.Context, digest string) error {
	if p.waiter != nil {
		return p.waiter.WaitIndexed(ctx, digest)
	}
	if p.delay <= 0 {
		return nil
	}
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
