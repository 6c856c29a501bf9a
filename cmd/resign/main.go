package main

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	resign "github.com/ipaforge/resign"
	"github.com/ipaforge/resign/pkg/codesign"
	cstypes "github.com/ipaforge/resign/pkg/codesign/types"
	"github.com/ipaforge/resign/pkg/dylib"
	"github.com/ipaforge/resign/pkg/identity"
	"github.com/ipaforge/resign/pkg/ipa"
	"github.com/ipaforge/resign/pkg/provision"
)

type signOptions struct {
	output           string
	p12Path          string
	p12Password      string
	profilePath      string
	identifier       string
	injectDylib      string
	entitlementsPath string
	weakInject       bool
	adhoc            bool
	hardenedRT       bool
}

func main() {
	root := &cobra.Command{
		Use:           "resign",
		Short:         "re-sign an iOS .ipa archive",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newSignCommand())

	if err := root.Execute(); err != nil {
		codesign.Log().Error().Err(err).Msg("resign failed")
		os.Exit(1)
	}
}

func newSignCommand() *cobra.Command {
	opts := new(signOptions)
	c := &cobra.Command{
		Use:                   "sign [options] input.ipa",
		Short:                 "re-sign an .ipa with a new identity and provisioning profile",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(args[0], opts)
		},
	}

	flags := c.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "path to the re-signed .ipa (default: <input>_signed.ipa)")
	flags.StringVar(&opts.p12Path, "p12", "", "path to the signing identity's PKCS#12 archive")
	flags.StringVar(&opts.p12Password, "p12-password", "", "password protecting the PKCS#12 archive")
	flags.StringVar(&opts.profilePath, "profile", "", "path to the embedded.mobileprovision to stamp in")
	flags.StringVar(&opts.identifier, "identifier", "", "override CFBundleIdentifier across the bundle")
	flags.StringVar(&opts.injectDylib, "inject-dylib", "", "path to a dylib to add an LC_LOAD_DYLIB for")
	flags.StringVar(&opts.entitlementsPath, "entitlements", "", "path to an entitlements plist to embed (CSSlotEntitlements/CSSlotEntitlementsDER)")
	flags.BoolVar(&opts.weakInject, "weak-inject", false, "mark the injected dylib load command as weak")
	flags.BoolVar(&opts.adhoc, "adhoc", false, "sign ad-hoc instead of requiring --p12")
	flags.BoolVar(&opts.hardenedRT, "hardened-runtime", false, "set the hardened-runtime CodeDirectory flag")

	return c
}

func runSign(ipaPath string, opts *signOptions) error {
	if !opts.adhoc && opts.p12Path == "" {
		return fmt.Errorf("one of --p12 or --adhoc is required")
	}

	output := opts.output
	if output == "" {
		output = deriveOutputPath(ipaPath)
	}

	tmp, err := os.MkdirTemp("", "resign-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	archive, err := ipa.Expand(ipaPath, tmp)
	if err != nil {
		return fmt.Errorf("expand ipa: %w", err)
	}

	if err := archive.RemoveExistingSignature(); err != nil {
		return fmt.Errorf("remove existing signature: %w", err)
	}

	if opts.identifier != "" {
		if err := ipa.RewriteBundleIdentifier(archive.AppPath, opts.identifier, logSkip); err != nil {
			return fmt.Errorf("rewrite bundle identifier: %w", err)
		}
	}

	var id codesign.Identity
	if !opts.adhoc {
		p12Data, err := os.ReadFile(opts.p12Path)
		if err != nil {
			return fmt.Errorf("read p12: %w", err)
		}
		id, err = identity.LoadP12(p12Data, opts.p12Password)
		if err != nil {
			return fmt.Errorf("load identity: %w", err)
		}
	}

	if opts.profilePath != "" {
		profileData, err := os.ReadFile(opts.profilePath)
		if err != nil {
			return fmt.Errorf("read provisioning profile: %w", err)
		}
		profile, err := provision.Parse(profileData)
		if err != nil {
			return fmt.Errorf("parse provisioning profile: %w", err)
		}
		teamAndID := profile.TeamIdentifier() + "." + opts.identifier
		stamped, err := profile.Stamp(teamAndID)
		if err != nil {
			return fmt.Errorf("stamp provisioning profile: %w", err)
		}
		dest := archive.AppPath + "/embedded.mobileprovision"
		if err := os.WriteFile(dest, stamped, 0o644); err != nil {
			return fmt.Errorf("write provisioning profile: %w", err)
		}
	}

	executables, err := archive.Executables(logSkip)
	if err != nil {
		return fmt.Errorf("enumerate executables: %w", err)
	}

	for i, path := range executables {
		if err := signOneBinary(path, opts, id, i == 0); err != nil {
			return fmt.Errorf("sign %s: %w", path, err)
		}
	}

	if err := archive.Rebuild(output); err != nil {
		return fmt.Errorf("rebuild ipa: %w", err)
	}

	codesign.Log().Info().Str("output", output).Msg("re-signed ipa")
	return nil
}

func signOneBinary(path string, opts *signOptions, id codesign.Identity, isMain bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	slice := raw
	if len(raw) >= 4 {
		archs, ferr := resign.ParseFatHeader(raw)
		if ferr == nil {
			chosen, serr := resign.FatSelector(archs)
			if serr != nil {
				return serr
			}
			slice = raw[chosen.Offset : chosen.Offset+chosen.Size]
		}
	}

	model, err := resign.Parse(slice)
	if err != nil {
		return err
	}

	if isMain && opts.injectDylib != "" {
		injected, err := dylib.Inject(model, opts.injectDylib, opts.weakInject)
		if err != nil {
			return fmt.Errorf("inject dylib: %w", err)
		}
		model, err = resign.Parse(injected)
		if err != nil {
			return err
		}
	}

	superBlob, err := buildSignature(model, opts, id)
	if err != nil {
		return err
	}

	signed, err := codesign.Rewrite(model, superBlob)
	if err != nil {
		return err
	}

	return os.WriteFile(path, signed, 0o644)
}

// buildSignature runs the dataflow from spec §2: page-hash the code range,
// fold in any entitlements' special-slot hashes, assemble the
// CodeDirectory, optionally produce a CMS signature over it, and wrap
// everything into the embedded-signature super-blob.
func buildSignature(model *resign.MachOModel, opts *signOptions, id codesign.Identity) ([]byte, error) {
	codeLimit, err := codesign.SignatureOffset(model)
	if err != nil {
		return nil, err
	}

	pageHashes := codesign.PageHasher(model.View.Bytes(), codeLimit, codesign.DefaultPageExponent)

	specialSlots := map[int][]byte{}
	var entitlementEntries []codesign.SuperBlobInput

	if opts.entitlementsPath != "" {
		entXML, err := os.ReadFile(opts.entitlementsPath)
		if err != nil {
			return nil, fmt.Errorf("read entitlements: %w", err)
		}

		entHash := sha256.Sum256(cstypes.NewBlob(cstypes.MagicEmbeddedEntitlements, entXML).Bytes())
		specialSlots[int(cstypes.CSSlotEntitlements)] = entHash[:]
		entitlementEntries = append(entitlementEntries,
			codesign.SuperBlobInput{Slot: cstypes.CSSlotEntitlements, Data: entXML})

		der, err := cstypes.DerEncodeEntitlements(entXML)
		if err != nil {
			return nil, fmt.Errorf("der-encode entitlements: %w", err)
		}
		derHash := sha256.Sum256(cstypes.NewBlob(cstypes.MagicEmbeddedEntitlementsDER, der).Bytes())
		specialSlots[int(cstypes.CSSlotEntitlementsDER)] = derHash[:]
		entitlementEntries = append(entitlementEntries,
			codesign.SuperBlobInput{Slot: cstypes.CSSlotEntitlementsDER, Data: der})
	}

	flags := signingFlags(opts)
	cd := codesign.BuildCodeDirectory(codesign.CodeDirectoryInput{
		Identifier:   opts.identifier,
		CodeLimit:    codeLimit,
		CodeHashes:   pageHashes,
		SpecialSlots: specialSlots,
		Flags:        flags,
		Platform:     0,
		PageExponent: codesign.DefaultPageExponent,
	})

	entries := []codesign.SuperBlobInput{
		{Slot: cstypes.CSSlotCodeDirectory, Data: cd},
	}
	entries = append(entries, entitlementEntries...)

	if !opts.adhoc {
		sig, err := codesign.SignatureSigner(cd, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, codesign.SuperBlobInput{Slot: cstypes.CSSlotCMSSignature, Data: sig})
	}

	return codesign.BuildSuperBlob(entries), nil
}

// signingFlags derives the CodeDirectory's flags: adhoc (dev) signatures
// default to CS_ADHOC | CS_GET_TASK_ALLOW so the binary stays debuggable,
// matching a local Xcode development signature rather than a distribution
// one.
func signingFlags(opts *signOptions) cstypes.CDFlag {
	var flags cstypes.CDFlag
	if opts.adhoc {
		flags |= cstypes.CDFlagAdhoc | cstypes.CDFlagGetTaskAllow
	}
	if opts.hardenedRT {
		flags |= cstypes.CDFlagRuntime
	}
	return flags
}

func logSkip(format string, args ...any) {
	codesign.Log().Warn().Msg(fmt.Sprintf(format, args...))
}

func deriveOutputPath(ipaPath string) string {
	const suffix = ".ipa"
	if len(ipaPath) > len(suffix) && ipaPath[len(ipaPath)-len(suffix):] == suffix {
		return ipaPath[:len(ipaPath)-len(suffix)] + "_signed.ipa"
	}
	return ipaPath + "_signed.ipa"
}
