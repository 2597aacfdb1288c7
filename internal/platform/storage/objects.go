package storage

import (
	"fmt"
	"strings"
)

const refScheme = "gs://"

// DocumentObject composes the object name for a nominee document:
// nominees/{nomineeID}/{slotID}/{uploadID}-{fileName}. Every upload gets a fresh object so a
// replaced document never overwrites the file an evaluator may still be looking at.
func DocumentObject(nomineeID, slotID, uploadID, fileName string) (string, error) {
	nomineeID, err := segment("nomineeID", nomineeID)
	if err != nil {
		return "", err
	}
	slotID, err = segment("slotID", slotID)
	if err != nil {
		return "", err
	}
	uploadID, err = segment("uploadID", uploadID)
	if err != nil {
		return "", err
	}
	fileName, err = segment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("nominees/%s/%s/%s-%s", nomineeID, slotID, uploadID, fileName), nil
}

// ObjectRef formats the stored reference for an object.
func ObjectRef(bucket, object string) string {
	return refScheme + bucket + "/" + object
}

// ParseObjectRef splits a gs://bucket/object reference. ok is false for anything else, including
// plain https URLs recorded by older clients.
func ParseObjectRef(ref string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(ref), refScheme)
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

func segment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
