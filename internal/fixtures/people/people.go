// Package people is a small family/address domain used by tests to exercise
// sharing, cycles, ordered collections and business keys.
package people

import (
	"fmt"
	"strings"
)

// AreaType classifies an Area.
type AreaType int

const (
	Planet AreaType = iota
	Continent
	Country
	State
	City
	UrbanDistrict
)

var areaTypeNames = []string{"PLANET", "CONTINENT", "COUNTRY", "STATE", "CITY", "URBAN_DISTRICT"}

// MarshalText stores the enum by name.
func (t AreaType) MarshalText() ([]byte, error) {
	if int(t) < 0 || int(t) >= len(areaTypeNames) {
		return nil, fmt.Errorf("unknown area type %d", int(t))
	}
	return []byte(areaTypeNames[t]), nil
}

// Gender of a Person.
type Gender string

const (
	Male   Gender = "MALE"
	Female Gender = "FEMALE"
)

// Area is a geographic region. Countries are unique by name.
type Area struct {
	AreaCode string
	Name     string
	AreaType AreaType
	PartOf   *Area
}

// BusinessKey implements mapping.Keyed.
func (a *Area) BusinessKey() (string, bool) {
	if a.AreaType != Country {
		return "", false
	}
	return strings.ToUpper(a.Name), true
}

// PointOfContact is anything a Person can be reached at.
type PointOfContact interface {
	contact()
}

// Address is a postal address.
type Address struct {
	Street string
	Number int
	Area   *Area
}

func (*Address) contact() {}

// EAddress is an e-mail address.
type EAddress struct {
	EMail string `graph:"email"`
}

func (*EAddress) contact() {}

// GraphLabels implements mapping.Labeler.
func (*EAddress) GraphLabels() []string {
	return []string{"Contact"}
}

// Person is a member of a family.
type Person struct {
	FirstName       string
	LastName        string
	Gender          Gender
	Nicknames       []string
	PointsOfContact []PointOfContact
	Mother          *Person
	Father          *Person
	Notes           string `graph:"-"`
}

// Population is the fixture graph returned by NewPopulation.
type Population struct {
	Earth, Europe, Germany, Munic, USA, SanFrancisco *Area
	SmithAddress, BerghammerAddress                  *Address
	JohnSmith, CarolineSmith, AngieSmith             *Person
	HansBerghammer, GerdaBerghammer                  *Person
	HansMail                                         *EAddress
}

// Roots returns the people in the order they are stored.
func (p *Population) Roots() []any {
	return []any{p.JohnSmith, p.CarolineSmith, p.AngieSmith, p.HansBerghammer, p.GerdaBerghammer}
}

// NewPopulation builds two families sharing areas up to the planet.
func NewPopulation() *Population {
	p := &Population{}

	p.Earth = &Area{Name: "Earth", AreaType: Planet}
	northAmerica := &Area{Name: "North America", AreaType: Continent, PartOf: p.Earth}
	p.USA = &Area{AreaCode: "1", Name: "USA", AreaType: Country, PartOf: northAmerica}
	california := &Area{Name: "California", AreaType: State, PartOf: p.USA}
	p.SanFrancisco = &Area{Name: "San Francisco", AreaType: City, PartOf: california}
	p.Europe = &Area{Name: "Europe", AreaType: Continent, PartOf: p.Earth}
	p.Germany = &Area{AreaCode: "2", Name: "Germany", AreaType: Country, PartOf: p.Europe}
	p.Munic = &Area{Name: "Munic", AreaType: City, PartOf: p.Germany}

	p.SmithAddress = &Address{Street: "Market Street", Number: 20, Area: p.SanFrancisco}
	p.JohnSmith = &Person{FirstName: "John", LastName: "Smith", Gender: Male,
		PointsOfContact: []PointOfContact{p.SmithAddress}}
	p.CarolineSmith = &Person{FirstName: "Caroline", LastName: "Smith", Gender: Female,
		PointsOfContact: []PointOfContact{p.SmithAddress}}
	p.AngieSmith = &Person{FirstName: "Angelina", LastName: "Smith", Gender: Female,
		Nicknames:       []string{"Angie"},
		PointsOfContact: []PointOfContact{p.SmithAddress},
		Mother:          p.CarolineSmith, Father: p.JohnSmith}

	p.BerghammerAddress = &Address{Street: "Hochstrasse", Number: 4, Area: p.Munic}
	p.HansMail = &EAddress{EMail: "hans@berghammer.de"}
	p.HansBerghammer = &Person{FirstName: "Hans", LastName: "Berghammer", Gender: Male,
		PointsOfContact: []PointOfContact{p.BerghammerAddress, p.HansMail}}
	p.GerdaBerghammer = &Person{FirstName: "Gerda", LastName: "Berghammer", Gender: Female,
		PointsOfContact: []PointOfContact{p.BerghammerAddress}}

	return p
}

// NodeCount is the number of distinct objects reachable from Roots.
const NodeCount = 16

// EdgeCount is the number of non-nil references reachable from Roots.
const EdgeCount = 17
