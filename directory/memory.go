package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Directory.
type Memory struct {
	mu       sync.RWMutex
	masters  map[string]*MasterUser // guid -> master
	byGLID   map[string]string
	profiles map[string]*Profile // glid|location -> profile
}

// NewMemory returns an empty directory.
func NewMemory() *Memory {
	return &Memory{
		masters:  make(map[string]*MasterUser),
		byGLID:   make(map[string]string),
		profiles: make(map[string]*Profile),
	}
}

func profileKey(glid, location string) string {
	return NormalizeGLID(glid) + "|" + location
}

// Put stores a master and its profile, replacing previous records.
func (m *Memory) Put(master MasterUser, profile Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	master.GLID = NormalizeGLID(master.GLID)
	if master.GUID == "" {
		master.GUID = uuid.NewString()
	}
	profile.GLID = master.GLID
	if profile.Location == "" {
		profile.Location = master.Location
	}
	if profile.GUID == "" {
		profile.GUID = master.GUID
	}
	m.masters[master.GUID] = &master
	m.byGLID[master.GLID] = master.GUID
	m.profiles[profileKey(profile.GLID, profile.Location)] = &profile
}

func (m *Memory) MasterByGLID(_ context.Context, glid string) (*MasterUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	guid, ok := m.byGLID[NormalizeGLID(glid)]
	if !ok {
		return nil, nil
	}
	return copyMaster(m.masters[guid]), nil
}

func (m *Memory) MasterByGUID(_ context.Context, guid string) (*MasterUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyMaster(m.masters[guid]), nil
}

func (m *Memory) MasterByContact(_ context.Context, kind ContactKind, value string) (*MasterUser, error) {
	value = NormalizeContact(kind, value)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, master := range m.masters {
		if kind == ContactEmail && master.PrimaryEmail == value {
			return copyMaster(master), nil
		}
		if kind == ContactPhone && master.PrimaryPhone == value {
			return copyMaster(master), nil
		}
	}
	return nil, nil
}

func (m *Memory) Profile(_ context.Context, glid, location string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[profileKey(glid, location)]
	if !ok {
		return nil, nil
	}
	out := *p
	out.Contacts = append([]Contact(nil), p.Contacts...)
	return &out, nil
}

func (m *Memory) SetPasswordHash(_ context.Context, guid, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	master, ok := m.masters[guid]
	if !ok {
		return ErrNotFound
	}
	master.PasswordHash = hash
	return nil
}

func (m *Memory) CreateUser(_ context.Context, user NewUser) (*MasterUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	glid := NormalizeGLID(user.GLID)
	if _, taken := m.byGLID[glid]; taken {
		return nil, ErrDuplicate
	}
	guid := uuid.NewString()
	master := MasterFor(guid, user)
	m.masters[guid] = master
	m.byGLID[glid] = guid
	profile := ProfileFor(guid, user)
	m.profiles[profileKey(glid, profile.Location)] = profile
	return copyMaster(master), nil
}

func copyMaster(m *MasterUser) *MasterUser {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}
