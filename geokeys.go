package demtiles

import (
	"errors"
	"fmt"
)

var errParse = errors.New("geokey parse error")

// Locations of geokey values other than the directory itself.
const (
	geoKeyLocationDirectory    = 0
	geoKeyLocationDoubleParams = 34736 // GeoDoubleParamsTag.
	geoKeyLocationASCIIParams  = 34737 // GeoASCIIParamsTag.
)

// A GeoKey identifies an entry in a GeoTIFF geokey directory.
type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS            GeoKey = 2048
	GeoKeyGeogCitation           GeoKey = 2049
	GeoKeyGeodeticDatum          GeoKey = 2050
	GeoKeyPrimeMeridian          GeoKey = 2051
	GeoKeyLinearUnits            GeoKey = 2052
	GeoKeyGeogLinearUnitSize     GeoKey = 2053
	GeoKeyAngularUnits           GeoKey = 2054
	GeoKeyGeogAngularUnitSize    GeoKey = 2055
	GeoKeyEllipsoid              GeoKey = 2056
	GeoKeyEllipsoidSemiMajorAxis GeoKey = 2057
	GeoKeyEllipsoidSemiMinorAxis GeoKey = 2058
	GeoKeyEllipsoidInvFlattening GeoKey = 2059
	GeoKeyAzimuthUnits           GeoKey = 2060
	GeoKeyPrimeMeridianLongitude GeoKey = 2061

	GeoKeyProjectedCRS                                 GeoKey = 3072
	GeoKeyPCSCitation                                  GeoKey = 3073
	GeoKeyProjection                                   GeoKey = 3074
	GeoKeyProjMethod                                   GeoKey = 3075
	GeoKeyLinearUnits2                                 GeoKey = 3076
	GeoKeyProjectedLinearUnitSize                      GeoKey = 3077
	GeoKeyStandardParallel1GeoKeyProjAngularParameters GeoKey = 3078
	GeoKeyStandardParallel2GeoKeyProjAngularParameters GeoKey = 3079
	GeoKeyNaturalOriginLongitudeProjAngularParameters  GeoKey = 3080
	GeoKeyNaturalOriginLatitudeProjAngularParameters   GeoKey = 3081
	GeoKeyFalseEastingProjLinearParameters             GeoKey = 3082
	GeoKeyFalseNorthingProjLinearParameters            GeoKey = 3083
	GeoKeyFalseOriginLongitudeProjAngularParameters    GeoKey = 3084
	GeoKeyFalseOriginLatitudeProjAngularParameters     GeoKey = 3085
	GeoKeyFalseOriginEastingProjLinearParameters       GeoKey = 3086
	GeoKeyFalseOriginNorthingProjLinearParameters      GeoKey = 3087
	GeoKeyCenterLongitudeProjAngularParameters         GeoKey = 3088
	GeoKeyCenterLatitudeProjAngularParameters          GeoKey = 3089
	GeoKeyProjectionCenterEastingProjLinearParameters  GeoKey = 3090
	GeoKeyProjectionCenterNorthingProjLinearParameters GeoKey = 3091
	GeoKeyScaleAtNaturalOriginProjScalarParameters     GeoKey = 3092
	GeoKeyScaleAtCenterProjScalarParameters            GeoKey = 3093
	GeoKeyProjAzimuthAngle                             GeoKey = 3094
	GeoKeyStraightVerticalPoleProjAngularParameters    GeoKey = 3095

	GeoKeyVertical         GeoKey = 4096
	GeoKeyVerticalCitation GeoKey = 4097
	GeoKeyVerticalDatum    GeoKey = 4098
	GeoKeyVerticalUnits    GeoKey = 4099
)

// Model types, the values of GeoKeyGTModelType.
const (
	modelTypeProjected  = 1
	modelTypeGeographic = 2
)

// userDefined is the geokey value for a user-defined CRS.
const userDefined = 32767

// ParsedGeoKeys are the values in a GeoTIFF geokey directory, by type.
type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a geokey directory and the double and ASCII parameters
// that it refers to.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}
	keyDirectoryVersion, keyRevision, minorRevision := directory[0], directory[1], directory[2]
	if keyDirectoryVersion != 1 || keyRevision != 1 || (minorRevision != 0 && minorRevision != 1) {
		return nil, fmt.Errorf("version %d.%d.%d: %w", keyDirectoryVersion, keyRevision, minorRevision, errParse)
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, fmt.Errorf("directory length %d for %d keys: %w", len(directory), numberOfKeys, errParse)
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for entry := range numberOfKeys {
		values := directory[4+4*entry : 4+4*(entry+1)]
		key, location, count, valueOffset := GeoKey(values[0]), int(values[1]), int(values[2]), int(values[3])
		switch location {
		case geoKeyLocationDirectory:
			if count != 1 {
				return nil, fmt.Errorf("key %d: %w", key, errParse)
			}
			parsedGeoKeys.Params[key] = valueOffset
		case geoKeyLocationDoubleParams:
			if count != 1 {
				return nil, errors.ErrUnsupported
			}
			if valueOffset >= len(doubleParams) {
				return nil, fmt.Errorf("key %d: double param %d out of range: %w", key, valueOffset, errParse)
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[valueOffset]
		case geoKeyLocationASCIIParams:
			if valueOffset+count > len(asciiParams) {
				return nil, fmt.Errorf("key %d: ASCII param out of range: %w", key, errParse)
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[valueOffset : valueOffset+count])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsedGeoKeys, nil
}

// SRID returns the EPSG code of the CRS described by k, or zero if it is not
// given or is user-defined.
func (k *ParsedGeoKeys) SRID() int {
	var key GeoKey
	switch k.Params[GeoKeyGTModelType] {
	case modelTypeProjected:
		key = GeoKeyProjectedCRS
	case modelTypeGeographic:
		key = GeoKeyGeodeticCRS
	default:
		return 0
	}
	if srid := k.Params[key]; srid != userDefined {
		return srid
	}
	return 0
}
