// Package mongo is a directory.Directory over the usermasters and users
// collections of a MongoDB database.
package mongo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MrEthical07/glidauth/directory"
)

const domain = "directory.mongo"

const (
	// DefaultMastersCollection holds one document per person.
	DefaultMastersCollection = "usermasters"
	// DefaultUsersCollection holds one document per person and location.
	DefaultUsersCollection = "users"
)

// Config names the database and collections.
type Config struct {
	Database          string
	MastersCollection string
	UsersCollection   string
}

type masterDoc struct {
	GUID         string `bson:"guid"`
	GLID         string `bson:"glid"`
	Name         string `bson:"name,omitempty"`
	Password     string `bson:"password,omitempty"`
	PrimaryEmail string `bson:"primaryEmail,omitempty"`
	PrimaryPhone string `bson:"primaryPhone,omitempty"`
	DialCode     string `bson:"dialCode,omitempty"`
	Location     string `bson:"location,omitempty"`
}

type emailDoc struct {
	Address     string `bson:"address"`
	Verified    bool   `bson:"isVerified"`
	AuthEnabled bool   `bson:"isAuthenticationEnabled"`
	Primary     bool   `bson:"isPrimary"`
}

type phoneDoc struct {
	Number      string `bson:"number"`
	Verified    bool   `bson:"isVerified"`
	AuthEnabled bool   `bson:"isAuthenticationEnabled"`
	Primary     bool   `bson:"isPrimary"`
	DialCode    string `bson:"dialCode,omitempty"`
	CountryCode string `bson:"countryCode,omitempty"`
}

type preferenceDoc struct {
	TimeZone   string `bson:"timeZone,omitempty"`
	HourFormat string `bson:"hourFormat,omitempty"`
	Language   string `bson:"language,omitempty"`
}

type userDoc struct {
	GUID     string `bson:"guid"`
	GLID     string `bson:"glid"`
	Location string `bson:"location"`
	Name     string `bson:"name"`
	Contact  struct {
		Email  []emailDoc `bson:"email"`
		Mobile []phoneDoc `bson:"mobile"`
	} `bson:"contact"`
	Preference preferenceDoc `bson:"preference"`
}

// Directory implements directory.Directory on MongoDB.
type Directory struct {
	masters *mongo.Collection
	users   *mongo.Collection
}

var _ directory.Directory = (*Directory)(nil)

// New binds the directory to db. Zero Config fields take the defaults.
func New(client *mongo.Client, cfg Config) *Directory {
	if cfg.MastersCollection == "" {
		cfg.MastersCollection = DefaultMastersCollection
	}
	if cfg.UsersCollection == "" {
		cfg.UsersCollection = DefaultUsersCollection
	}
	db := client.Database(cfg.Database)
	return &Directory{
		masters: db.Collection(cfg.MastersCollection),
		users:   db.Collection(cfg.UsersCollection),
	}
}

// Connect dials uri, pings the primary and returns the client.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, directory.Unavailable(domain, "connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx) //nolint:errcheck // ping error takes precedence
		return nil, directory.Unavailable(domain, "ping", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique indexes lookups and registration rely on.
func (d *Directory) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := d.masters.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "glid", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "guid", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "primaryEmail", Value: 1}}},
		{Keys: bson.D{{Key: "primaryPhone", Value: 1}}},
	}); err != nil {
		return directory.Unavailable(domain, "master indexes", err)
	}
	if _, err := d.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "glid", Value: 1}, {Key: "location", Value: 1}},
		Options: unique,
	}); err != nil {
		return directory.Unavailable(domain, "user indexes", err)
	}
	return nil
}

func (d *Directory) findMaster(ctx context.Context, op string, filter bson.M) (*directory.MasterUser, error) {
	var doc masterDoc
	err := d.masters.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, directory.Unavailable(domain, op, err)
	}
	return doc.master(), nil
}

func (d *Directory) MasterByGLID(ctx context.Context, glid string) (*directory.MasterUser, error) {
	return d.findMaster(ctx, "master by glid", bson.M{"glid": directory.NormalizeGLID(glid)})
}

func (d *Directory) MasterByGUID(ctx context.Context, guid string) (*directory.MasterUser, error) {
	return d.findMaster(ctx, "master by guid", bson.M{"guid": guid})
}

func (d *Directory) MasterByContact(ctx context.Context, kind directory.ContactKind, value string) (*directory.MasterUser, error) {
	field := "primaryEmail"
	if kind == directory.ContactPhone {
		field = "primaryPhone"
	}
	return d.findMaster(ctx, "master by contact", bson.M{field: directory.NormalizeContact(kind, value)})
}

func (d *Directory) Profile(ctx context.Context, glid, location string) (*directory.Profile, error) {
	var doc userDoc
	err := d.users.FindOne(ctx, bson.M{"glid": directory.NormalizeGLID(glid), "location": location}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, directory.Unavailable(domain, "profile", err)
	}
	return doc.profile(), nil
}

func (d *Directory) SetPasswordHash(ctx context.Context, guid, hash string) error {
	update := bson.M{"$set": bson.M{"password": hash}}
	if hash == "" {
		update = bson.M{"$unset": bson.M{"password": ""}}
	}
	res, err := d.masters.UpdateOne(ctx, bson.M{"guid": guid}, update)
	if err != nil {
		return directory.Unavailable(domain, "set password hash", err)
	}
	if res.MatchedCount == 0 {
		return directory.ErrNotFound
	}
	return nil
}

// CreateUser inserts the master document and then the location document.
// A failed second insert removes the master again.
func (d *Directory) CreateUser(ctx context.Context, user directory.NewUser) (*directory.MasterUser, error) {
	guid := uuid.NewString()
	master := directory.MasterFor(guid, user)
	profile := directory.ProfileFor(guid, user)

	if _, err := d.masters.InsertOne(ctx, masterDocFrom(master)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, directory.ErrDuplicate
		}
		return nil, directory.Unavailable(domain, "insert master", err)
	}

	if _, err := d.users.InsertOne(ctx, userDocFrom(profile, user.CountryCode)); err != nil {
		_, _ = d.masters.DeleteOne(ctx, bson.M{"guid": guid}) //nolint:errcheck // insert error takes precedence
		if mongo.IsDuplicateKeyError(err) {
			return nil, directory.ErrDuplicate
		}
		return nil, directory.Unavailable(domain, "insert user", err)
	}
	return master, nil
}

func (m masterDoc) master() *directory.MasterUser {
	return &directory.MasterUser{
		GUID:         m.GUID,
		GLID:         m.GLID,
		Name:         m.Name,
		PasswordHash: m.Password,
		PrimaryEmail: m.PrimaryEmail,
		PrimaryPhone: m.PrimaryPhone,
		DialCode:     m.DialCode,
		Location:     m.Location,
	}
}

func masterDocFrom(m *directory.MasterUser) masterDoc {
	return masterDoc{
		GUID:         m.GUID,
		GLID:         m.GLID,
		Name:         m.Name,
		Password:     m.PasswordHash,
		PrimaryEmail: m.PrimaryEmail,
		PrimaryPhone: m.PrimaryPhone,
		DialCode:     m.DialCode,
		Location:     m.Location,
	}
}

func (u userDoc) profile() *directory.Profile {
	p := &directory.Profile{
		GUID:     u.GUID,
		GLID:     u.GLID,
		Name:     u.Name,
		Location: u.Location,
		Preference: directory.Preference{
			Language:   u.Preference.Language,
			HourFormat: u.Preference.HourFormat,
			TimeZone:   u.Preference.TimeZone,
		},
	}
	for _, e := range u.Contact.Email {
		p.Contacts = append(p.Contacts, directory.Contact{
			Kind:        directory.ContactEmail,
			Value:       e.Address,
			Verified:    e.Verified,
			Primary:     e.Primary,
			AuthEnabled: e.AuthEnabled,
		})
	}
	for _, m := range u.Contact.Mobile {
		p.Contacts = append(p.Contacts, directory.Contact{
			Kind:        directory.ContactPhone,
			Value:       m.Number,
			DialCode:    m.DialCode,
			Verified:    m.Verified,
			Primary:     m.Primary,
			AuthEnabled: m.AuthEnabled,
		})
	}
	return p
}

func userDocFrom(p *directory.Profile, countryCode string) userDoc {
	doc := userDoc{
		GUID:     p.GUID,
		GLID:     p.GLID,
		Location: p.Location,
		Name:     p.Name,
		Preference: preferenceDoc{
			TimeZone:   p.Preference.TimeZone,
			HourFormat: p.Preference.HourFormat,
			Language:   p.Preference.Language,
		},
	}
	doc.Contact.Email = []emailDoc{}
	doc.Contact.Mobile = []phoneDoc{}
	for _, c := range p.Contacts {
		switch c.Kind {
		case directory.ContactEmail:
			doc.Contact.Email = append(doc.Contact.Email, emailDoc{
				Address: c.Value, Verified: c.Verified, AuthEnabled: c.AuthEnabled, Primary: c.Primary,
			})
		case directory.ContactPhone:
			doc.Contact.Mobile = append(doc.Contact.Mobile, phoneDoc{
				Number: c.Value, Verified: c.Verified, AuthEnabled: c.AuthEnabled, Primary: c.Primary,
				DialCode: c.DialCode, CountryCode: countryCode,
			})
		}
	}
	return doc
}
