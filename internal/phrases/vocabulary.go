package phrases

import (
	"errors"
	"fmt"
	"strings"
)

const (
	articleMasculine    = "Un"
	articleFeminine     = "Una"
	participleMasculine = "vestido"
	participleFeminine  = "vestida"
)

// ErrInvalidVocabulary indicates that a vocabulary table is empty or holds blank entries.
var ErrInvalidVocabulary = errors.New("phrases: invalid vocabulary")

// Subject is a vocabulary noun together with the article and participle that agree with its gender.
type Subject struct {
	Article    string
	Noun       string
	Participle string
}

// Masculine returns a subject using the masculine article and participle.
func Masculine(noun string) Subject {
	return Subject{Article: articleMasculine, Noun: noun, Participle: participleMasculine}
}

// Feminine returns a subject using the feminine article and participle.
func Feminine(noun string) Subject {
	return Subject{Article: articleFeminine, Noun: noun, Participle: participleFeminine}
}

// Vocabulary holds the three immutable tables combined by the generator.
type Vocabulary struct {
	Subjects   []Subject
	Roles      []string
	Activities []string
}

// Size returns the number of distinct phrases the vocabulary can produce.
func (v Vocabulary) Size() int {
	return len(v.Subjects) * len(v.Roles) * len(v.Activities)
}

// Validate ensures every table is non-empty and free of blank entries.
func (v Vocabulary) Validate() error {
	if len(v.Subjects) == 0 {
		return fmt.Errorf("%w: no subjects", ErrInvalidVocabulary)
	}
	if len(v.Roles) == 0 {
		return fmt.Errorf("%w: no roles", ErrInvalidVocabulary)
	}
	if len(v.Activities) == 0 {
		return fmt.Errorf("%w: no activities", ErrInvalidVocabulary)
	}
	for index, subject := range v.Subjects {
		if strings.TrimSpace(subject.Noun) == "" || strings.TrimSpace(subject.Article) == "" || strings.TrimSpace(subject.Participle) == "" {
			return fmt.Errorf("%w: blank subject at %d", ErrInvalidVocabulary, index)
		}
	}
	for index, role := range v.Roles {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("%w: blank role at %d", ErrInvalidVocabulary, index)
		}
	}
	for index, activity := range v.Activities {
		if strings.TrimSpace(activity) == "" {
			return fmt.Errorf("%w: blank activity at %d", ErrInvalidVocabulary, index)
		}
	}
	return nil
}

// Compose renders the phrase for the given table positions.
func (v Vocabulary) Compose(subjectIndex, roleIndex, activityIndex int) string {
	subject := v.Subjects[subjectIndex]
	return fmt.Sprintf("%s %s %s de %s %s.",
		subject.Article, subject.Noun, subject.Participle, v.Roles[roleIndex], v.Activities[activityIndex])
}

// DefaultVocabulary returns the stock tables: Argentine fauna, costumes and everyday activities.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Subjects: []Subject{
			Feminine("llama"), Masculine("aguará guazú"), Masculine("carpincho"), Masculine("puma"),
			Masculine("yaguareté"), Masculine("guanaco"), Masculine("tatú carreta"), Masculine("huemul"),
			Feminine("vicuña"), Masculine("zorrito de monte"), Masculine("tapir"), Masculine("monito de monte"),
			Masculine("coendú"), Masculine("ñandú"), Feminine("mará"), Masculine("zorro colorado"),
			Masculine("coatí"), Masculine("margay"), Masculine("ocelote"), Feminine("paca"),
			Masculine("cuis"), Masculine("yacaré"), Masculine("huillín"), Masculine("hurón menor"),
			Feminine("mulita"), Masculine("chinchillón"), Masculine("lobito de río"), Masculine("tucán"),
			Masculine("cardenal amarillo"), Masculine("ciervo de los pantanos"),
		},
		Roles: []string{
			"guerrero medieval", "policía", "oficinista", "jugador de fútbol", "albañil", "músico", "científico",
			"bombero", "astronauta", "superhéroe", "pirata", "chef", "pintor", "payaso", "bailarín", "mago",
			"detective", "explorador", "ninja", "repartidor", "profesor", "doctor", "ingeniero", "cazador",
			"vendedor ambulante", "granadero", "campesino", "artista", "jardinero", "escultor",
		},
		Activities: []string{
			"comprando en el supermercado", "trabajando en una oficina", "caminando por el bosque", "leyendo un libro",
			"nadando en un lago", "cocinando una comida", "jugando al ajedrez", "tocando la guitarra", "pintando un cuadro",
			"escribiendo una carta", "arreglando un coche", "jugando con amigos", "cazando mariposas", "plantando un árbol",
			"paseando por el parque", "escalando una montaña", "durmiendo en una hamaca", "construyendo una casa",
			"volando una cometa", "sacando fotos", "cantando en un karaoke", "dibujando en un cuaderno", "bailando en una fiesta",
			"lavando los platos", "limpiando la casa", "haciendo yoga", "pescando en un río", "tomando un café",
			"haciendo ejercicio", "andando en bicicleta",
		},
	}
}
